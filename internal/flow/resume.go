package flow

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/confirm"
	"github.com/BTreeMap/FormPipe/internal/extraction"
	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/provider"
	"github.com/BTreeMap/FormPipe/internal/store"
)

// HistoryEntry is one prior message of the conversation, as supplied by the
// calling runtime.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnRequest is one free-text conversational turn.
type TurnRequest struct {
	ConversationID string         `json:"conversation_id"`
	TenantID       string         `json:"tenant_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Text           string         `json:"text"`
	History        []HistoryEntry `json:"history,omitempty"`
}

// Coordinator routes free-text turns into active drafts: it selects the draft
// the turn most plausibly continues, extracts field values from the utterance,
// and synthesizes a structured invocation against the planner.
type Coordinator struct {
	planner   *Planner
	drafts    *DraftManager
	store     store.Store
	gateway   *provider.Gateway
	extractor *extraction.Extractor
}

// NewCoordinator creates a resume coordinator. extractor may be nil, in which
// case turns merge no inferred values and rely on confirmation/cancel signals.
func NewCoordinator(planner *Planner, drafts *DraftManager, st store.Store, gateway *provider.Gateway, extractor *extraction.Extractor) *Coordinator {
	return &Coordinator{
		planner:   planner,
		drafts:    drafts,
		store:     st,
		gateway:   gateway,
		extractor: extractor,
	}
}

// Turn processes one free-text turn. When no active draft exists the result
// status is NO_ACTIVE_DRAFT and the caller should fall through to its own
// generation.
func (c *Coordinator) Turn(ctx context.Context, req TurnRequest) (models.InvokeResult, error) {
	if req.ConversationID == "" {
		return models.InvokeResult{}, models.ErrEmptyConversationID
	}
	unlock := c.planner.lockConversation(req.ConversationID)
	defer unlock()

	active, err := c.drafts.Active(req.ConversationID)
	if err != nil {
		return models.InvokeResult{}, err
	}
	if len(active) == 0 {
		slog.Debug("Coordinator.Turn: no active draft", "conversationID", req.ConversationID)
		return models.InvokeResult{
			Status:         models.InvokeStatusNoActiveDraft,
			ConversationID: req.ConversationID,
		}, nil
	}

	draft := selectDraft(active, req.History)
	slog.Debug("Coordinator.Turn: resuming draft", "toolName", draft.ToolName, "conversationID", req.ConversationID, "status", draft.Status)

	if confirm.IsCancel(req.Text) {
		if err := c.drafts.Delete(draft.ToolName, req.ConversationID); err != nil {
			return models.InvokeResult{}, err
		}
		slog.Info("Coordinator.Turn: draft canceled", "toolName", draft.ToolName, "conversationID", req.ConversationID)
		return models.InvokeResult{
			Status:         models.InvokeStatusCanceled,
			ToolName:       draft.ToolName,
			ConversationID: req.ConversationID,
			Message:        "draft discarded",
		}, nil
	}

	spec, ok := c.planner.catalog.Get(draft.ToolName)
	if !ok {
		// Capability unregistered under the draft; discard and fall through.
		slog.Warn("Coordinator.Turn: draft references unregistered capability", "toolName", draft.ToolName, "conversationID", req.ConversationID)
		if err := c.drafts.Delete(draft.ToolName, req.ConversationID); err != nil {
			return models.InvokeResult{}, err
		}
		return models.InvokeResult{
			Status:         models.InvokeStatusNoActiveDraft,
			ConversationID: req.ConversationID,
		}, nil
	}

	binding, err := c.store.GetBinding(req.TenantID)
	if err != nil {
		return models.InvokeResult{}, err
	}

	// Resolve hints once: they feed the extraction alias tables here and the
	// question plan inside the synthesized invocation.
	missing := spec.MissingFields(draft.Slots)
	hints, defaulted := c.gateway.ResolveHints(ctx, binding, spec, missing, draft.Slots, req.UserID)

	arguments := make(map[string]interface{})
	if c.extractor != nil {
		known := canonicalSlots(spec, draft.Slots)
		for name, value := range defaulted {
			if known[name] == "" {
				known[name] = value
			}
		}
		candidates := extraction.CandidateFields(spec, spec.MissingFields(known))
		for name, value := range c.extractor.Extract(ctx, req.Text, spec, candidates, known, hints) {
			arguments[name] = value
		}
	}
	if confirm.IsAffirmative(req.Text) {
		arguments[confirm.ConfirmationArgName] = true
	}

	return c.planner.invoke(ctx, InvokeRequest{
		ToolName:       draft.ToolName,
		ConversationID: req.ConversationID,
		TenantID:       req.TenantID,
		UserID:         req.UserID,
		Arguments:      arguments,
	}, &resolvedHints{hints: hints, defaulted: defaulted})
}

// selectDraft picks the draft a turn continues. The draft most recently named
// by a structured tool result in the history wins; otherwise the earliest
// created active draft. active must be non-empty and is expected in creation
// order.
func selectDraft(active []models.Draft, history []HistoryEntry) *models.Draft {
	for i := len(history) - 1; i >= 0; i-- {
		entry := history[i]
		if entry.Role != "tool" {
			continue
		}
		if name := toolNameFromResult(entry.Content); name != "" {
			for j := range active {
				if active[j].ToolName == name {
					return &active[j]
				}
			}
		}
		for j := range active {
			if strings.Contains(entry.Content, active[j].ToolName) {
				return &active[j]
			}
		}
	}
	return &active[0]
}

// toolNameFromResult reads the tool_name field of a JSON tool result, if the
// content parses as one.
func toolNameFromResult(content string) string {
	var payload struct {
		ToolName string `json:"tool_name"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return ""
	}
	return payload.ToolName
}
