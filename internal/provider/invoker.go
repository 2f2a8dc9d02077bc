// Package provider resolves selectable options, default values, and final
// submissions against tenant-bound provider endpoints.
//
// All calls go through the Invoker interface so tests can substitute a mock;
// the HTTP implementation shares one concurrency-safe client across turns.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// Default configuration constants
const (
	// DefaultTimeout bounds each provider HTTP call.
	DefaultTimeout = 15 * time.Second
	// DefaultPageSize is the option page size requested from providers.
	DefaultPageSize = 20
	// MaxResponseBytes caps how much of a provider response body is read.
	MaxResponseBytes = 1 << 20
)

// OptionQueryRequest asks a provider for the selectable values of one field.
type OptionQueryRequest struct {
	Action    string            `json:"action"`
	ToolName  string            `json:"tool_name"`
	FieldName string            `json:"field_name"`
	Slots     map[string]string `json:"slots,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Cursor    string            `json:"cursor,omitempty"`
	Limit     int               `json:"limit,omitempty"`
}

// OptionQueryResponse carries one page of selectable values.
type OptionQueryResponse struct {
	Items   []models.OptionItem `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"has_more,omitempty"`
}

// DefaultValueRequest asks a provider for an auto-fill default of one field.
type DefaultValueRequest struct {
	Action    string            `json:"action"`
	ToolName  string            `json:"tool_name"`
	FieldName string            `json:"field_name"`
	Slots     map[string]string `json:"slots,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
}

// DefaultValueResponse carries the resolved default, if any.
type DefaultValueResponse struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// SubmitRequest carries the final canonical slot set to the provider.
type SubmitRequest struct {
	Action    string                 `json:"action"`
	ToolName  string                 `json:"tool_name"`
	FormData  map[string]string      `json:"form_data"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
}

// SubmitResponse reports the provider's submission outcome. Body preserves the
// raw response for the caller's payload.
type SubmitResponse struct {
	HTTPStatus int
	Body       string
}

// Invoker performs provider calls for one tenant binding.
type Invoker interface {
	InvokeOptionQuery(ctx context.Context, binding models.ProviderBinding, req OptionQueryRequest) (*OptionQueryResponse, error)
	InvokeDefaultValue(ctx context.Context, binding models.ProviderBinding, req DefaultValueRequest) (*DefaultValueResponse, error)
	InvokeSubmit(ctx context.Context, binding models.ProviderBinding, req SubmitRequest) (*SubmitResponse, error)
}

// Opts holds configuration options for the HTTP invoker.
type Opts struct {
	Timeout    time.Duration
	PageSize   int
	HTTPClient *http.Client
}

// Option defines a functional option for provider configuration.
type Option func(*Opts)

// WithTimeout sets the per-call timeout for provider HTTP requests.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithPageSize sets the option page size requested from providers.
func WithPageSize(n int) Option {
	return func(o *Opts) {
		o.PageSize = n
	}
}

// WithHTTPClient sets a custom HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// HTTPInvoker calls provider actions as JSON POSTs against the binding's base
// URL, one path segment per action.
type HTTPInvoker struct {
	client *http.Client
}

// NewHTTPInvoker creates an HTTP invoker with the configured timeout.
func NewHTTPInvoker(opts ...Option) *HTTPInvoker {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPInvoker{client: client}
}

// InvokeOptionQuery performs an option query provider call.
func (i *HTTPInvoker) InvokeOptionQuery(ctx context.Context, binding models.ProviderBinding, req OptionQueryRequest) (*OptionQueryResponse, error) {
	body, status, err := i.post(ctx, binding, req.Action, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("option query %s returned status %d", req.Action, status)
	}
	var resp OptionQueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode option query response: %w", err)
	}
	return &resp, nil
}

// InvokeDefaultValue performs a default value provider call.
func (i *HTTPInvoker) InvokeDefaultValue(ctx context.Context, binding models.ProviderBinding, req DefaultValueRequest) (*DefaultValueResponse, error) {
	body, status, err := i.post(ctx, binding, req.Action, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("default value %s returned status %d", req.Action, status)
	}
	var resp DefaultValueResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode default value response: %w", err)
	}
	return &resp, nil
}

// InvokeSubmit performs the final submission provider call. Non-2xx statuses
// are returned alongside the body, not as an error, so the caller can surface
// them in the SUBMIT_FAILED payload.
func (i *HTTPInvoker) InvokeSubmit(ctx context.Context, binding models.ProviderBinding, req SubmitRequest) (*SubmitResponse, error) {
	body, status, err := i.post(ctx, binding, req.Action, req)
	if err != nil {
		return nil, err
	}
	return &SubmitResponse{HTTPStatus: status, Body: string(body)}, nil
}

// post sends one JSON POST to {baseURL}/{action} with the binding's bearer token.
func (i *HTTPInvoker) post(ctx context.Context, binding models.ProviderBinding, action string, payload interface{}) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal provider request: %w", err)
	}

	url := strings.TrimSuffix(binding.BaseURL, "/") + "/" + strings.TrimPrefix(action, "/")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if binding.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+binding.Token)
	}

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("provider call %s failed: %w", action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read provider response: %w", err)
	}
	return body, resp.StatusCode, nil
}
