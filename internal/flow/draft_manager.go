// Package flow implements the per-turn state machine for capability drafts:
// draft lifecycle management, the question planner, and the resume coordinator
// that routes free-text turns back into active drafts.
package flow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/store"
)

// DraftManager persists capability drafts keyed by (toolName, conversationID).
type DraftManager struct {
	store store.Store
}

// NewDraftManager creates a draft manager backed by the given store.
func NewDraftManager(st store.Store) *DraftManager {
	slog.Debug("Creating DraftManager")
	return &DraftManager{store: st}
}

// Get retrieves a draft, returning nil when none exists.
func (m *DraftManager) Get(toolName, conversationID string) (*models.Draft, error) {
	draft, err := m.store.GetDraft(toolName, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	return draft, nil
}

// GetOrCreate retrieves the draft for (spec.ToolName, conversationID), creating
// a fresh COLLECTING draft when none exists.
func (m *DraftManager) GetOrCreate(spec models.CapabilitySpec, conversationID, tenantID, userID string) (*models.Draft, error) {
	draft, err := m.store.GetDraft(spec.ToolName, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	if draft != nil {
		return draft, nil
	}

	now := time.Now()
	draft = &models.Draft{
		ID:             uuid.NewString(),
		ToolName:       spec.ToolName,
		ConversationID: conversationID,
		TenantID:       tenantID,
		UserID:         userID,
		Slots:          make(map[string]string),
		Status:         models.DraftStatusCollecting,
		MissingFields:  spec.MissingFields(nil),
		FieldLabels:    make(map[string]string),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.SaveDraft(*draft); err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}
	slog.Debug("DraftManager.GetOrCreate: created draft", "toolName", spec.ToolName, "conversationID", conversationID, "draftID", draft.ID)
	return draft, nil
}

// Save persists the draft, refreshing its update timestamp.
func (m *DraftManager) Save(draft *models.Draft) error {
	draft.UpdatedAt = time.Now()
	if err := m.store.SaveDraft(*draft); err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

// Delete discards the draft for (toolName, conversationID).
func (m *DraftManager) Delete(toolName, conversationID string) error {
	if err := m.store.DeleteDraft(toolName, conversationID); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	slog.Debug("DraftManager.Delete: draft discarded", "toolName", toolName, "conversationID", conversationID)
	return nil
}

// Active returns the conversation's drafts still owning the slot-filling flow,
// in creation order.
func (m *DraftManager) Active(conversationID string) ([]models.Draft, error) {
	drafts, err := m.store.ListDraftsByConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	active := drafts[:0]
	for _, d := range drafts {
		if d.Status.IsActive() {
			active = append(active, d)
		}
	}
	return active, nil
}
