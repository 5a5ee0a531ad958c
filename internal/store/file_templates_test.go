package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/Taskflow/internal/domain"
)

const expenseYAML = `
id: expense
name: Expense approval
nodes:
  - id: submit
    type: start
    next: [review]
  - id: review
    type: approval
    assignment:
      kind: role
      roles: [manager]
    next: [done]
  - id: done
    type: end
`

func TestParseTemplateYAML(t *testing.T) {
	tpl, err := ParseTemplateYAML([]byte(expenseYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tpl.ID != "expense" || tpl.Version != 1 || !tpl.Active {
		t.Errorf("unexpected header: %+v", tpl)
	}
	if len(tpl.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(tpl.Nodes))
	}

	review, ok := tpl.Node("review")
	if !ok {
		t.Fatal("review node not found")
	}
	if review.Assignment == nil || review.Assignment.Kind != domain.AssignmentRole {
		t.Errorf("unexpected assignment: %+v", review.Assignment)
	}
	if len(review.Next) != 1 || review.Next[0] != "done" {
		t.Errorf("unexpected edges: %v", review.Next)
	}
}

func TestParseTemplateYAML_MissingID(t *testing.T) {
	if _, err := ParseTemplateYAML([]byte("nodes: []")); err == nil {
		t.Error("expected error for template without id")
	}
}

func TestFileTemplates_LoadAndSave(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "expense.yaml"), []byte(expenseYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewFileTemplates(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := r.Load(ctx, "expense", 1); err != nil {
		t.Fatalf("load v1: %v", err)
	}

	v2 := &domain.Template{ID: "expense", Nodes: []domain.TaskNode{{ID: "only", TypeID: "end"}}, Active: true}
	if err := r.Save(ctx, v2); err != nil {
		t.Fatalf("save: %v", err)
	}
	if v2.Version != 2 {
		t.Errorf("expected version 2, got %d", v2.Version)
	}

	reopened, err := NewFileTemplates(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	latest, err := reopened.Latest(ctx, "expense")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 2 || len(latest.Nodes) != 1 {
		t.Errorf("unexpected latest: v%d with %d nodes", latest.Version, len(latest.Nodes))
	}

	if _, err := reopened.Load(ctx, "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
