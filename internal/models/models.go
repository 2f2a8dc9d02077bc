// Package models defines the core data structures for FormPipe.
//
// It includes the capability catalog types, draft state, question plans, and
// the API response envelope shared across modules.
package models

import "errors"

// Error variables for better error handling and testability
var (
	ErrCapabilityNotFound    = errors.New("capability not found")
	ErrBindingNotFound       = errors.New("no provider binding for tenant")
	ErrDraftNotFound         = errors.New("draft not found")
	ErrEmptyToolName         = errors.New("tool_name cannot be empty")
	ErrEmptySubmitAction     = errors.New("submit_action is required")
	ErrNoFields              = errors.New("at least one field is required for slot filling")
	ErrEmptyFieldName        = errors.New("field name cannot be empty")
	ErrDuplicateFieldName    = errors.New("duplicate field name")
	ErrInvalidInputMode      = errors.New("invalid input mode")
	ErrInvalidInferMode      = errors.New("invalid infer mode")
	ErrUnknownDependency     = errors.New("dependsOn references an unknown field")
	ErrOptionMissingValue    = errors.New("option value cannot be empty")
	ErrEmptyTenantID         = errors.New("tenant_id cannot be empty")
	ErrEmptyBindingBaseURL   = errors.New("binding base_url cannot be empty")
	ErrEmptyConversationID   = errors.New("conversation_id cannot be empty")
	ErrSelfDependency        = errors.New("field cannot depend on itself")
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
