package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из API, CLI не импортирует internal-пакеты движка) ---

// TemplateResponse — версия шаблона из API.
type TemplateResponse struct {
	ID          string         `json:"id"`
	Version     int            `json:"version"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Nodes       []NodeResponse `json:"nodes"`
	Active      bool           `json:"active"`
	CreatedAt   string         `json:"created_at"`
}

// NodeResponse — узел шаблона.
type NodeResponse struct {
	ID     string         `json:"id"`
	Name   string         `json:"name,omitempty"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
	Next   []string       `json:"next,omitempty"`
}

// TemplateSummary — строка списка шаблонов.
type TemplateSummary struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Name    string `json:"name,omitempty"`
	Active  bool   `json:"active"`
	Nodes   int    `json:"nodes"`
}

// Diagnostic — замечание валидатора к шаблону.
type Diagnostic struct {
	Severity string `json:"severity"`
	NodeID   string `json:"node_id,omitempty"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
}

// PublishResponse — результат публикации шаблона.
type PublishResponse struct {
	Template    TemplateResponse `json:"template"`
	Active      bool             `json:"active"`
	Diagnostics []Diagnostic     `json:"diagnostics"`
}

// ProcessResponse — процесс из API.
type ProcessResponse struct {
	ID              string         `json:"id"`
	TemplateID      string         `json:"template_id"`
	TemplateVersion int            `json:"template_version"`
	Status          string         `json:"status"`
	Variables       map[string]any `json:"variables"`
	StartedAt       string         `json:"started_at"`
	CompletedAt     string         `json:"completed_at,omitempty"`
}

// EntryResponse — запись очереди из API.
type EntryResponse struct {
	ID          string `json:"id"`
	ProcessID   string `json:"process_id"`
	NodeID      string `json:"node_id"`
	NodeType    string `json:"node_type"`
	Status      string `json:"status"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	RetryCount  int    `json:"retry_count"`
	Error       string `json:"error,omitempty"`
	CompletedBy string `json:"completed_by,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// FormField — поле формы интерактивной задачи.
type FormField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// Form — форма интерактивной задачи.
type Form struct {
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Fields      []FormField `json:"fields"`
	Actions     []string    `json:"actions,omitempty"`
}

// EntryDetail — задача вместе с процессом, узлом и формой.
type EntryDetail struct {
	Entry       EntryResponse   `json:"entry"`
	Process     ProcessResponse `json:"process"`
	Node        NodeResponse    `json:"node"`
	Interactive bool            `json:"interactive"`
	Form        *Form           `json:"form,omitempty"`
	CanExecute  bool            `json:"can_execute"`
}

// TimelineItem — строка хронологии процесса.
type TimelineItem struct {
	EntryID     string `json:"entry_id"`
	NodeID      string `json:"node_id"`
	NodeName    string `json:"node_name"`
	NodeType    string `json:"node_type"`
	Status      string `json:"status"`
	Display     string `json:"display"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	CompletedBy string `json:"completed_by,omitempty"`
	Error       string `json:"error,omitempty"`
	RetryCount  int    `json:"retry_count"`
	CreatedAt   string `json:"created_at"`
}

// TimelineResponse — хронология процесса.
type TimelineResponse struct {
	Process      ProcessResponse `json:"process"`
	TemplateName string          `json:"template_name,omitempty"`
	Items        []TimelineItem  `json:"items"`
	Counts       map[string]int  `json:"counts"`
}

// OrchestrateResponse — итог прохода оркестратора.
type OrchestrateResponse struct {
	Processed int  `json:"processed"`
	Acquired  bool `json:"acquired"`
	Yielded   bool `json:"yielded"`
}

// --- Request types ---

// StartProcessRequest — запуск процесса.
type StartProcessRequest struct {
	Version   int            `json:"version,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// ListProcessesOpts — параметры фильтрации процессов.
type ListProcessesOpts struct {
	TemplateID string
	Status     string
	Limit      int
	Offset     int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details,omitempty"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	if len(e.Details) > 0 && string(e.Details) != "null" {
		return fmt.Sprintf("%s: %s %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Заголовки, которые читает API.
const (
	actorHeader = "X-Actor-ID"
	tokenHeader = "X-Orchestrate-Token"
)

// Client — HTTP-клиент для Taskflow API.
type Client struct {
	baseURL    string
	actor      string
	token      string
	httpClient *http.Client
}

// ClientOption настраивает Client.
type ClientOption func(*Client)

// WithActor задаёт пользователя, от имени которого идут запросы.
func WithActor(actor string) ClientOption {
	return func(c *Client) { c.actor = actor }
}

// WithToken задаёт токен для запуска прохода оркестратора.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient подменяет http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- Templates ---

// ListTemplates возвращает последние версии шаблонов.
func (c *Client) ListTemplates() ([]TemplateSummary, error) {
	var templates []TemplateSummary
	err := c.list("/api/v1/templates", nil, &templates)
	return templates, err
}

// PublishTemplate публикует шаблон. contentType — application/json или application/yaml.
func (c *Client) PublishTemplate(doc []byte, contentType string) (*PublishResponse, error) {
	resp, err := c.doRaw(http.MethodPost, "/api/v1/templates", bytes.NewReader(doc), contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result PublishResponse
	if err := c.decodeData(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// --- Processes ---

// StartProcess запускает процесс по шаблону.
func (c *Client) StartProcess(templateID string, req StartProcessRequest) (*ProcessResponse, error) {
	var process ProcessResponse
	err := c.post("/api/v1/templates/"+url.PathEscape(templateID)+"/processes", req, &process)
	return &process, err
}

// ListProcesses возвращает процессы с фильтрацией.
func (c *Client) ListProcesses(opts ListProcessesOpts) ([]ProcessResponse, error) {
	params := url.Values{}
	if opts.TemplateID != "" {
		params.Set("template_id", opts.TemplateID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var processes []ProcessResponse
	err := c.list("/api/v1/processes", params, &processes)
	return processes, err
}

// GetProcess возвращает процесс по ID.
func (c *Client) GetProcess(id string) (*ProcessResponse, error) {
	var process ProcessResponse
	err := c.get("/api/v1/processes/"+id, &process)
	return &process, err
}

// GetTimeline возвращает хронологию процесса глазами текущего пользователя.
func (c *Client) GetTimeline(id string) (*TimelineResponse, error) {
	var timeline TimelineResponse
	err := c.get("/api/v1/processes/"+id+"/timeline", &timeline)
	return &timeline, err
}

// CancelProcess отменяет процесс.
func (c *Client) CancelProcess(id string) (*ProcessResponse, error) {
	var process ProcessResponse
	err := c.post("/api/v1/processes/"+id+"/cancel", nil, &process)
	return &process, err
}

// --- Queue ---

// GetTask возвращает задачу с формой.
func (c *Client) GetTask(id string) (*EntryDetail, error) {
	var detail EntryDetail
	err := c.get("/api/v1/queue/"+id, &detail)
	return &detail, err
}

// CompleteTask отправляет данные по интерактивной задаче.
func (c *Client) CompleteTask(id string, submission map[string]any) (*EntryDetail, error) {
	if submission == nil {
		submission = map[string]any{}
	}
	body := map[string]any{"submission": submission}
	var detail EntryDetail
	err := c.post("/api/v1/queue/"+id+"/complete", body, &detail)
	return &detail, err
}

// SetTaskStatus меняет статус записи очереди.
func (c *Client) SetTaskStatus(id, status string) (*EntryResponse, error) {
	body := map[string]string{"status": status}
	var entry EntryResponse
	err := c.put("/api/v1/queue/"+id+"/status", body, &entry)
	return &entry, err
}

// --- Orchestrator ---

// Orchestrate запускает проход оркестратора.
func (c *Client) Orchestrate() (*OrchestrateResponse, error) {
	var result OrchestrateResponse
	err := c.post("/api/v1/orchestrate", nil, &result)
	return &result, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.decodeData(resp, result)
}

func (c *Client) decodeData(resp *http.Response, result any) error {
	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	if body == nil {
		return c.doRaw(method, path, nil, "")
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.doRaw(method, path, bytes.NewReader(data), "application/json")
}

func (c *Client) doRaw(method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.actor != "" {
		req.Header.Set(actorHeader, c.actor)
	}
	if c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       er.Error.Code,
		Message:    er.Error.Message,
		Details:    er.Error.Details,
	}
}
