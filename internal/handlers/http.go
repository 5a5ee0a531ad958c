package handlers

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// TypeHTTP — тип HTTP handler'а.
	TypeHTTP = "http"

	// Значения по умолчанию.
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB

	// HeaderIdempotencyKey — заголовок, по которому получатель отбрасывает повторы.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Ключи конфигурации HTTP handler'а.
const (
	configMethod          = "method"
	configURL             = "url"
	configHeaders         = "headers"
	configBody            = "body"
	configFollowRedirects = "follow_redirects"
	configValidateSSL     = "validate_ssl"
	configTimeoutSec      = "timeout_sec"
	configResultVariable  = "result_variable"
)

// HTTPHandler — вызов внешнего API (webhook).
//
// Каждый запрос несёт заголовок Idempotency-Key с ID записи очереди:
// при повторном выполнении той же записи получатель видит тот же ключ.
//
// Конфигурация:
//
//	{
//	    "method": "POST",
//	    "url": "https://erp.example.com/expenses",
//	    "headers": {"Authorization": "Bearer {{ .Env.ERP_TOKEN }}"},
//	    "body": {"amount": "{{ .Variables.amount }}"},
//	    "result_variable": "erp_response",
//	    "timeout_sec": 10
//	}
//
// .Env читает переменные окружения с префиксом TASKFLOW_ENV_.
//
// В result_variable записывается:
//
//	{
//	    "status_code": 200,
//	    "headers": {"Content-Type": "application/json", ...},
//	    "body": {...}  // parsed JSON or string
//	}
//
// Ответ со статусом >= 400 переводит запись в ERROR.
type HTTPHandler struct {
	Automated
	client *http.Client
}

// NewHTTPHandler создаёт HTTPHandler.
func NewHTTPHandler() *HTTPHandler {
	return &HTTPHandler{
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

// TypeID возвращает тип задачи.
func (h *HTTPHandler) TypeID() string {
	return TypeHTTP
}

// Execute выполняет HTTP запрос.
func (h *HTTPHandler) Execute(ctx context.Context, ec *ExecutionContext) (ExecutionResult, error) {
	rendered, err := ec.Config()
	if err != nil {
		return Fail(err), nil
	}

	cfg, err := h.parseConfig(rendered)
	if err != nil {
		return Fail(err), nil
	}
	if _, set := cfg.Headers[HeaderIdempotencyKey]; !set {
		cfg.Headers[HeaderIdempotencyKey] = ec.Entry.ID.String()
	}

	client := h.buildClient(cfg)

	req, err := h.buildRequest(ctx, cfg)
	if err != nil {
		return Fail(fmt.Errorf("build request: %w", err)), nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return Fail(fmt.Errorf("http request failed: %w", err)), nil
	}
	defer resp.Body.Close()

	outputs, err := h.parseResponse(resp)
	if err != nil {
		return Fail(err), nil
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return Fail(&HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}), nil
	}

	if cfg.ResultVariable != "" {
		ec.Set(cfg.ResultVariable, outputs)
	}
	ec.Logger.Debug("http call completed", "url", cfg.URL, "status_code", resp.StatusCode)

	return Continue(), nil
}

// ValidateConfig проверяет обязательные поля.
func (h *HTTPHandler) ValidateConfig(config map[string]any) []error {
	if Values(config).String(configURL) == "" {
		return []error{fmt.Errorf("%w: %s: url is required", ErrInvalidConfig, TypeHTTP)}
	}
	return nil
}

// httpConfig — распарсенная конфигурация HTTP handler'а.
type httpConfig struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            any
	FollowRedirects bool
	ValidateSSL     bool
	TimeoutSec      int
	ResultVariable  string
}

// parseConfig разбирает конфигурацию. Метод по умолчанию — GET.
func (h *HTTPHandler) parseConfig(config map[string]any) (*httpConfig, error) {
	v := Values(config)
	cfg := &httpConfig{
		Method:          strings.ToUpper(v.String(configMethod)),
		URL:             v.String(configURL),
		Headers:         make(map[string]string),
		Body:            config[configBody],
		FollowRedirects: v.Bool(configFollowRedirects, true),
		ValidateSSL:     v.Bool(configValidateSSL, true),
		TimeoutSec:      v.Int(configTimeoutSec),
		ResultVariable:  v.String(configResultVariable),
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidConfig, TypeHTTP)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}

	for k, val := range v.StringMap(configHeaders) {
		cfg.Headers[http.CanonicalHeaderKey(k)] = val
	}

	return cfg, nil
}

// buildClient возвращает HTTP клиент для конфигурации.
func (h *HTTPHandler) buildClient(cfg *httpConfig) *http.Client {
	if cfg.TimeoutSec == 0 && cfg.FollowRedirects && cfg.ValidateSSL {
		return h.client
	}

	timeout := defaultHTTPTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.ValidateSSL},
		},
	}
}

// buildRequest создаёт HTTP запрос.
func (h *HTTPHandler) buildRequest(ctx context.Context, cfg *httpConfig) (*http.Request, error) {
	var bodyReader io.Reader

	if cfg.Body != nil {
		bodyBytes, err := serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)

		if _, hasContentType := cfg.Headers["Content-Type"]; !hasContentType {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

// serializeBody сериализует body в bytes.
func serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// parseResponse читает ответ в map.
func (h *HTTPHandler) parseResponse(resp *http.Response) (map[string]any, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var body any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			body = string(bodyBytes)
		}
	} else {
		body = string(bodyBytes)
	}

	headers := make(map[string]string)
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}, nil
}

// HTTPError — ответ со статусом ошибки.
type HTTPError struct {
	StatusCode int
	Status     string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}
