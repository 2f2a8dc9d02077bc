// Package models defines draft state and question plan structures for FormPipe.
package models

import "time"

// DraftStatus represents the lifecycle state of one capability draft.
type DraftStatus string

const (
	// DraftStatusCollecting indicates required fields are still missing.
	DraftStatusCollecting DraftStatus = "COLLECTING"
	// DraftStatusWaitConfirm indicates all required fields are present and the
	// draft is waiting for explicit confirmation.
	DraftStatusWaitConfirm DraftStatus = "WAIT_CONFIRM"
	// DraftStatusSubmitted indicates the submission succeeded.
	DraftStatusSubmitted DraftStatus = "SUBMITTED"
	// DraftStatusSubmitFailed indicates the submission failed; slots are retained.
	DraftStatusSubmitFailed DraftStatus = "SUBMIT_FAILED"
)

// IsActive reports whether a draft in this status still owns its conversation's
// slot-filling flow. SUBMITTED drafts are discarded, never resumed.
func (s DraftStatus) IsActive() bool {
	switch s {
	case DraftStatusCollecting, DraftStatusWaitConfirm, DraftStatusSubmitFailed:
		return true
	default:
		return false
	}
}

// Draft is the persisted parameter state for one capability invocation within
// one conversation, keyed by (ToolName, ConversationID).
type Draft struct {
	ID             string            `json:"id"`
	ToolName       string            `json:"tool_name"`
	ConversationID string            `json:"conversation_id"`
	TenantID       string            `json:"tenant_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	Slots          map[string]string `json:"slots"` // multi-select values are comma-joined canonical values
	Status         DraftStatus       `json:"status"`
	MissingFields  []string          `json:"missing_fields,omitempty"`
	FieldLabels    map[string]string `json:"field_labels,omitempty"` // cached display labels for missing fields
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// PlanStep identifies the planner's decision for the current turn.
type PlanStep string

const (
	// PlanStepCollect asks the user for the next missing field.
	PlanStepCollect PlanStep = "COLLECT"
	// PlanStepConfirm asks the user to confirm the collected slots.
	PlanStepConfirm PlanStep = "CONFIRM"
	// PlanStepSubmit hands the slots to the submission gateway.
	PlanStepSubmit PlanStep = "SUBMIT"
)

// AskMode describes how the next question should be presented.
type AskMode string

const (
	// AskModeFreeText asks for a free-form value.
	AskModeFreeText AskMode = "free_text"
	// AskModeSelectOne asks the user to pick exactly one option.
	AskModeSelectOne AskMode = "select_one"
	// AskModeSelectMany asks the user to pick one or more options.
	AskModeSelectMany AskMode = "select_many"
)

// NextField describes the field the planner decided to ask for next.
type NextField struct {
	Name       string       `json:"name"`
	Label      string       `json:"label,omitempty"`
	AskMode    AskMode      `json:"ask_mode"`
	InputMode  InputMode    `json:"input_mode"`
	Options    []OptionItem `json:"options,omitempty"`
	NextCursor string       `json:"next_cursor,omitempty"`
	HasMore    bool         `json:"has_more,omitempty"`
}

// QuestionPlan is the structured decision for what to ask or do next.
type QuestionPlan struct {
	Step                PlanStep          `json:"step"`
	NextField           *NextField        `json:"next_field,omitempty"`
	Preview             map[string]string `json:"preview,omitempty"`
	ConfirmationArgName string            `json:"confirmation_arg_name,omitempty"`
}

// InvokeStatus is the outward status of one capability invocation turn.
type InvokeStatus string

const (
	// InvokeStatusSlotMissing indicates required fields are still missing.
	InvokeStatusSlotMissing InvokeStatus = "SLOT_MISSING"
	// InvokeStatusWaitConfirm indicates the draft awaits confirmation.
	InvokeStatusWaitConfirm InvokeStatus = "WAIT_CONFIRM"
	// InvokeStatusSubmitted indicates the submission succeeded.
	InvokeStatusSubmitted InvokeStatus = "SUBMITTED"
	// InvokeStatusSubmitFailed indicates the submission failed.
	InvokeStatusSubmitFailed InvokeStatus = "SUBMIT_FAILED"
	// InvokeStatusCanceled indicates the user canceled the draft.
	InvokeStatusCanceled InvokeStatus = "CANCELED"
	// InvokeStatusBindingMissing indicates no provider binding exists for the tenant.
	InvokeStatusBindingMissing InvokeStatus = "BINDING_MISSING"
	// InvokeStatusNoActiveDraft indicates a conversational turn found no draft
	// to resume; the caller should fall through to its own generation.
	InvokeStatusNoActiveDraft InvokeStatus = "NO_ACTIVE_DRAFT"
)

// InvokeResult is the structured payload returned for every invocation turn.
// Every public operation returns one of these even on internal error.
type InvokeResult struct {
	Status             InvokeStatus      `json:"status"`
	ToolName           string            `json:"tool_name,omitempty"`
	ConversationID     string            `json:"conversation_id,omitempty"`
	MissingFields      []string          `json:"missing_fields,omitempty"`
	MissingFieldLabels map[string]string `json:"missing_field_labels,omitempty"`
	QuestionPlan       *QuestionPlan     `json:"question_plan,omitempty"`
	Preview            map[string]string `json:"preview,omitempty"`
	Message            string            `json:"message,omitempty"`
	Success            bool              `json:"success,omitempty"`
	HTTPStatus         int               `json:"http_status,omitempty"`
	CollectedSlots     map[string]string `json:"collected_slots,omitempty"`
}
