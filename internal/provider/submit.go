package provider

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// SubmitOutcome reports what happened to one submission attempt.
type SubmitOutcome struct {
	Success    bool
	HTTPStatus int
	Message    string
}

// Submitter performs the final provider call for a capability. Exactly one
// attempt is made per call; retry is user-driven.
type Submitter struct {
	invoker Invoker
}

// NewSubmitter creates a submitter over the given invoker.
func NewSubmitter(invoker Invoker) *Submitter {
	return &Submitter{invoker: invoker}
}

// submitEnvelope is the optional structured provider response shape.
type submitEnvelope struct {
	Code    *int            `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Submit sends the canonical slot set to the capability's submit action.
// The returned outcome is never an error: transport and provider failures are
// folded into Success=false so the caller can preserve the draft.
func (s *Submitter) Submit(ctx context.Context, binding models.ProviderBinding, spec models.CapabilitySpec, slots map[string]string, arguments map[string]interface{}, userID string) SubmitOutcome {
	resp, err := s.invoker.InvokeSubmit(ctx, binding, SubmitRequest{
		Action:    spec.SubmitAction,
		ToolName:  spec.ToolName,
		FormData:  slots,
		Arguments: arguments,
		TenantID:  binding.TenantID,
		UserID:    userID,
	})
	if err != nil {
		slog.Error("Submitter.Submit: provider call failed", "error", err, "toolName", spec.ToolName)
		return SubmitOutcome{Success: false, Message: err.Error()}
	}

	outcome := SubmitOutcome{HTTPStatus: resp.HTTPStatus}
	if resp.HTTPStatus < 200 || resp.HTTPStatus >= 300 {
		outcome.Message = submitMessage(resp.Body, "submission rejected by provider")
		slog.Warn("Submitter.Submit: provider rejected submission", "toolName", spec.ToolName, "httpStatus", resp.HTTPStatus)
		return outcome
	}

	// Providers may answer with a raw body or a {code, data} envelope; an
	// envelope with a non-zero error code is a failure despite HTTP 200.
	var envelope submitEnvelope
	if err := json.Unmarshal([]byte(resp.Body), &envelope); err == nil && envelope.Code != nil && *envelope.Code != 0 {
		outcome.Message = submitMessage(envelope.Message, "submission rejected by provider")
		slog.Warn("Submitter.Submit: provider envelope reported failure", "toolName", spec.ToolName, "code", *envelope.Code)
		return outcome
	}

	outcome.Success = true
	outcome.Message = "submitted"
	slog.Info("Submitter.Submit: submission succeeded", "toolName", spec.ToolName, "httpStatus", resp.HTTPStatus)
	return outcome
}

func submitMessage(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}
