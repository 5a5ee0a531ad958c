package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Taskflow/internal/assignment"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/handlers"
	"github.com/shaiso/Taskflow/internal/orchestrator"
	"github.com/shaiso/Taskflow/internal/report"
	"github.com/shaiso/Taskflow/internal/store"
)

const expenseTemplate = `{
	"id": "expense",
	"name": "Expense approval",
	"nodes": [
		{"id": "submit", "type": "start", "next": ["review"]},
		{"id": "review", "type": "approval", "next": ["done"],
		 "assignment": {"kind": "role", "roles": ["manager"]}},
		{"id": "done", "type": "end"}
	]
}`

type recordedRequest struct {
	route string
	code  int
}

type fakeMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (m *fakeMetrics) ObserveRequest(route string, code int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{route, code})
}

type testServer struct {
	*httptest.Server
	metrics *fakeMetrics
}

func newTestServer(t *testing.T, configure func(cfg *Config)) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := handlers.DefaultRegistry()
	memory := store.NewMemory()
	catalog := engine.NewCatalog(store.NewMemoryTemplates(), engine.NewValidator(registry))
	resolver := assignment.New(assignment.Config{
		Processes: memory,
		Queue:     memory,
		Catalog:   catalog,
		Roles: assignment.NewStaticDirectory(map[string][]string{
			"alice": {"employee"},
			"bob":   {"manager"},
			"root":  {"ops"},
		}),
		AdminRoles: []string{"ops"},
		Logger:     logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		Catalog:    catalog,
		Store:      memory,
		Registry:   registry,
		Authorizer: resolver,
		Token:      "secret",
		Logger:     logger,
	})
	reporter := report.New(report.Config{
		Processes:   memory,
		Queue:       memory,
		Catalog:     catalog,
		Eligibility: resolver,
		Logger:      logger,
	})

	metrics := &fakeMetrics{}
	cfg := Config{
		Engine:   orch,
		Reporter: reporter,
		Admins:   resolver,
		Metrics:  metrics,
		Logger:   logger,
	}
	if configure != nil {
		configure(&cfg)
	}

	mux := http.NewServeMux()
	NewHandler(cfg).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, metrics: metrics}
}

type apiResponse struct {
	status int
	Data   json.RawMessage `json:"data"`
	Error  *ErrorDetail    `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, actor string, body string, headers ...string) apiResponse {
	t.Helper()

	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	out := apiResponse{status: resp.StatusCode}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, raw, err)
		}
	}
	return out
}

func (r apiResponse) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", r.Data, err)
	}
}

func expectError(t *testing.T, r apiResponse, status int, code ErrorCode) {
	t.Helper()
	if r.status != status {
		t.Fatalf("status = %d, want %d (error: %+v)", r.status, status, r.Error)
	}
	if r.Error == nil || r.Error.Code != code {
		t.Fatalf("error = %+v, want code %s", r.Error, code)
	}
}

type timelineDTO struct {
	Process struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"process"`
	Items []struct {
		EntryID string `json:"entry_id"`
		NodeID  string `json:"node_id"`
		Status  string `json:"status"`
		Display string `json:"display"`
	} `json:"items"`
}

func (s *testServer) startExpense(t *testing.T) string {
	t.Helper()
	if r := s.do(t, "POST", "/api/v1/templates", "", expenseTemplate); r.status != http.StatusCreated {
		t.Fatalf("publish status = %d, error %+v", r.status, r.Error)
	}

	r := s.do(t, "POST", "/api/v1/templates/expense/processes", "alice", `{"variables":{"amount":120}}`)
	if r.status != http.StatusCreated {
		t.Fatalf("start status = %d, error %+v", r.status, r.Error)
	}
	var process struct {
		ID        string         `json:"id"`
		Variables map[string]any `json:"variables"`
	}
	r.decode(t, &process)
	if process.Variables["initiator"] != "alice" {
		t.Errorf("initiator = %v, want alice", process.Variables["initiator"])
	}
	return process.ID
}

func (s *testServer) reviewEntry(t *testing.T, processID, viewer string) (string, string) {
	t.Helper()
	r := s.do(t, "GET", "/api/v1/processes/"+processID+"/timeline", viewer, "")
	if r.status != http.StatusOK {
		t.Fatalf("timeline status = %d", r.status)
	}
	var tl timelineDTO
	r.decode(t, &tl)
	for _, item := range tl.Items {
		if item.NodeID == "review" {
			return item.EntryID, item.Display
		}
	}
	t.Fatalf("review entry not found in %+v", tl.Items)
	return "", ""
}

func TestAPI_ApprovalLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	processID := s.startExpense(t)

	r := s.do(t, "POST", "/api/v1/orchestrate", "", "", TokenHeader, "secret")
	if r.status != http.StatusOK {
		t.Fatalf("orchestrate status = %d", r.status)
	}
	var result orchestrator.Result
	r.decode(t, &result)
	if !result.Acquired || result.Processed != 2 {
		t.Errorf("result = %+v, want acquired with 2 processed", result)
	}

	entryID, display := s.reviewEntry(t, processID, "bob")
	if display != string(report.DisplayAwaitingYou) {
		t.Errorf("bob sees %q, want %q", display, report.DisplayAwaitingYou)
	}
	if _, display := s.reviewEntry(t, processID, "alice"); display != string(report.DisplayCurrent) {
		t.Errorf("alice sees %q, want %q", display, report.DisplayCurrent)
	}

	r = s.do(t, "GET", "/api/v1/queue/"+entryID, "bob", "")
	var detail struct {
		CanExecute bool `json:"can_execute"`
		Form       *struct {
			Actions []string `json:"actions"`
		} `json:"form"`
	}
	r.decode(t, &detail)
	if !detail.CanExecute || detail.Form == nil || len(detail.Form.Actions) != 2 {
		t.Errorf("detail = %+v", detail)
	}

	r = s.do(t, "POST", "/api/v1/queue/"+entryID+"/complete", "alice", `{"submission":{"decision":"approve"}}`)
	expectError(t, r, http.StatusForbidden, ErrCodeAccessDenied)

	r = s.do(t, "POST", "/api/v1/queue/"+entryID+"/complete", "bob", `{"submission":{"decision":"maybe"}}`)
	expectError(t, r, http.StatusUnprocessableEntity, ErrCodeInvalidSubmission)
	if r.Error.Details == nil {
		t.Error("invalid submission should carry violations")
	}

	r = s.do(t, "POST", "/api/v1/queue/"+entryID+"/complete", "bob", `{"submission":{"decision":"approve"}}`)
	if r.status != http.StatusOK {
		t.Fatalf("complete status = %d, error %+v", r.status, r.Error)
	}

	r = s.do(t, "POST", "/api/v1/queue/"+entryID+"/complete", "bob", `{"submission":{"decision":"approve"}}`)
	expectError(t, r, http.StatusConflict, ErrCodeInvalidState)

	s.do(t, "POST", "/api/v1/orchestrate", "", "", "Authorization", "Bearer secret")

	r = s.do(t, "GET", "/api/v1/processes/"+processID, "", "")
	var process struct {
		Status    string         `json:"status"`
		Variables map[string]any `json:"variables"`
	}
	r.decode(t, &process)
	if process.Status != "COMPLETE" {
		t.Errorf("process status = %s, want COMPLETE", process.Status)
	}
	if process.Variables["review_decision"] != "approve" || process.Variables["review_decision_by"] != "bob" {
		t.Errorf("variables = %v", process.Variables)
	}
}

func TestAPI_OrchestrateRejectsBadToken(t *testing.T) {
	s := newTestServer(t, nil)

	expectError(t, s.do(t, "POST", "/api/v1/orchestrate", "", ""), http.StatusUnauthorized, ErrCodeUnauthorized)
	expectError(t, s.do(t, "POST", "/api/v1/orchestrate", "", "", TokenHeader, "guess"), http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestAPI_OrchestrateRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) {
		cfg.TriggerRate = 0.001
		cfg.TriggerBurst = 1
	})

	if r := s.do(t, "POST", "/api/v1/orchestrate", "", "", TokenHeader, "secret"); r.status != http.StatusOK {
		t.Fatalf("first request status = %d", r.status)
	}
	expectError(t, s.do(t, "POST", "/api/v1/orchestrate", "", "", TokenHeader, "secret"), http.StatusTooManyRequests, ErrCodeRateLimited)
}

func TestAPI_PublishInvalidTemplate(t *testing.T) {
	s := newTestServer(t, nil)

	body := `{"id":"broken","nodes":[{"id":"a","type":"start","next":["ghost"]}]}`
	r := s.do(t, "POST", "/api/v1/templates", "", body)
	if r.status != http.StatusCreated {
		t.Fatalf("publish status = %d", r.status)
	}
	var published PublishTemplateResponse
	r.decode(t, &published)
	if published.Active || len(published.Diagnostics) == 0 {
		t.Errorf("published = %+v, want inactive with diagnostics", published)
	}

	r = s.do(t, "POST", "/api/v1/templates/broken/processes", "alice", `{"version":1}`)
	expectError(t, r, http.StatusUnprocessableEntity, ErrCodeValidationFailed)
	if r.Error.Details == nil {
		t.Error("validation error should list diagnostics")
	}

	r = s.do(t, "POST", "/api/v1/templates/broken/processes", "alice", "")
	expectError(t, r, http.StatusNotFound, ErrCodeNotFound)
}

func TestAPI_PublishYAML(t *testing.T) {
	s := newTestServer(t, nil)

	body := "id: hello\nnodes:\n  - id: begin\n    type: start\n    next: [finish]\n  - id: finish\n    type: end\n"
	r := s.do(t, "POST", "/api/v1/templates", "", body, "Content-Type", "application/yaml")
	if r.status != http.StatusCreated {
		t.Fatalf("publish status = %d, error %+v", r.status, r.Error)
	}

	r = s.do(t, "GET", "/api/v1/templates", "", "")
	var list []TemplateSummary
	r.decode(t, &list)
	if len(list) != 1 || list[0].ID != "hello" || !list[0].Active || list[0].Nodes != 2 {
		t.Errorf("templates = %+v", list)
	}
}

func TestAPI_OperatorActions(t *testing.T) {
	s := newTestServer(t, nil)
	processID := s.startExpense(t)
	s.do(t, "POST", "/api/v1/orchestrate", "", "", TokenHeader, "secret")
	entryID, _ := s.reviewEntry(t, processID, "")

	r := s.do(t, "PUT", "/api/v1/queue/"+entryID+"/status", "bob", `{"status":"CANCELLED"}`)
	expectError(t, r, http.StatusForbidden, ErrCodeAccessDenied)

	r = s.do(t, "PUT", "/api/v1/queue/"+entryID+"/status", "root", `{"status":"READY"}`)
	expectError(t, r, http.StatusConflict, ErrCodeInvalidState)

	r = s.do(t, "POST", "/api/v1/processes/"+processID+"/cancel", "", "")
	expectError(t, r, http.StatusForbidden, ErrCodeAccessDenied)

	r = s.do(t, "POST", "/api/v1/processes/"+processID+"/cancel", "root", "")
	if r.status != http.StatusOK {
		t.Fatalf("cancel status = %d, error %+v", r.status, r.Error)
	}

	r = s.do(t, "GET", "/api/v1/processes?status=CANCELLED", "", "")
	var processes []struct {
		ID string `json:"id"`
	}
	r.decode(t, &processes)
	if len(processes) != 1 || processes[0].ID != processID {
		t.Errorf("cancelled processes = %+v", processes)
	}
}

func TestAPI_NotFoundAndBadRequests(t *testing.T) {
	s := newTestServer(t, nil)

	expectError(t, s.do(t, "GET", "/api/v1/processes/not-a-uuid", "", ""), http.StatusBadRequest, ErrCodeBadRequest)
	expectError(t, s.do(t, "GET", "/api/v1/processes/7c1c8c52-1d89-4f5e-9c55-1f6a2b8d9e10", "", ""), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, s.do(t, "GET", "/api/v1/queue/7c1c8c52-1d89-4f5e-9c55-1f6a2b8d9e10", "", ""), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, s.do(t, "GET", "/api/v1/processes?limit=-3", "", ""), http.StatusBadRequest, ErrCodeBadRequest)
	expectError(t, s.do(t, "POST", "/api/v1/templates", "", `{"nodes":[]}`), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestAPI_MetricsUseRoutePattern(t *testing.T) {
	s := newTestServer(t, nil)

	s.do(t, "GET", "/api/v1/processes/7c1c8c52-1d89-4f5e-9c55-1f6a2b8d9e10", "", "")

	s.metrics.mu.Lock()
	defer s.metrics.mu.Unlock()
	if len(s.metrics.requests) != 1 {
		t.Fatalf("recorded %d requests, want 1", len(s.metrics.requests))
	}
	got := s.metrics.requests[0]
	if got.route != "GET /api/v1/processes/{id}" || got.code != http.StatusNotFound {
		t.Errorf("recorded %+v", got)
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
