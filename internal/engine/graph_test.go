package engine

import (
	"testing"

	"github.com/shaiso/Taskflow/internal/domain"
)

func TestBuildGraph_Diamond(t *testing.T) {
	// A → B → D
	// A → C → D
	g := BuildGraph(&domain.Template{
		Nodes: []domain.TaskNode{
			{ID: "A", TypeID: "start", Next: []string{"B", "C"}},
			{ID: "B", TypeID: "http", Next: []string{"D"}},
			{ID: "C", TypeID: "http", Next: []string{"D", "D"}},
			{ID: "D", TypeID: "end"},
		},
	})

	entries := g.EntryNodes()
	if len(entries) != 1 || entries[0].ID != "A" {
		t.Fatalf("expected single entry A, got %v", entries)
	}

	if got := g.Successors("A"); len(got) != 2 || got[0] != "B" || got[1] != "C" {
		t.Errorf("unexpected successors of A: %v", got)
	}
	if got := g.Predecessors("D"); len(got) != 2 {
		t.Errorf("duplicate edges should collapse, got predecessors %v", got)
	}
	if !g.IsJoin("D") {
		t.Error("D should be a join")
	}
	if g.IsJoin("B") {
		t.Error("B should not be a join")
	}
	if g.InCycle("A") || g.InCycle("D") {
		t.Error("diamond has no cycles")
	}
	if len(g.Reachable()) != 4 {
		t.Errorf("expected all 4 nodes reachable, got %v", g.Reachable())
	}
}

func TestBuildGraph_Cycles(t *testing.T) {
	g := BuildGraph(&domain.Template{
		Nodes: []domain.TaskNode{
			{ID: "A", TypeID: "start", Next: []string{"B"}},
			{ID: "B", TypeID: "http", Next: []string{"C"}},
			{ID: "C", TypeID: "http", Next: []string{"B", "D"}},
			{ID: "D", TypeID: "http", Next: []string{"D", "E"}},
			{ID: "E", TypeID: "end"},
		},
	})

	for id, want := range map[string]bool{"A": false, "B": true, "C": true, "D": true, "E": false} {
		if got := g.InCycle(id); got != want {
			t.Errorf("InCycle(%s): expected %v, got %v", id, want, got)
		}
	}
}

func TestBuildGraph_IgnoresUnknownTargets(t *testing.T) {
	g := BuildGraph(&domain.Template{
		Nodes: []domain.TaskNode{
			{ID: "A", TypeID: "start", Next: []string{"ghost", "B"}},
			{ID: "B", TypeID: "end"},
		},
	})

	if got := g.Successors("A"); len(got) != 1 || got[0] != "B" {
		t.Errorf("expected only B, got %v", got)
	}
}
