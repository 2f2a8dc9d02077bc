// Package recovery revalidates persisted drafts at startup so the service
// restarts cleanly after catalog changes or long downtime. One pass, no
// background loop.
package recovery

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/FormPipe/internal/catalog"
	"github.com/BTreeMap/FormPipe/internal/store"
)

// DefaultStaleAfter is the age past which an untouched draft is discarded.
const DefaultStaleAfter = 72 * time.Hour

// Revalidator reconciles stored drafts with the current capability catalog.
type Revalidator struct {
	store      store.Store
	catalog    *catalog.Registry
	staleAfter time.Duration
}

// NewRevalidator creates a revalidator. staleAfter <= 0 selects the default
// cutoff.
func NewRevalidator(st store.Store, reg *catalog.Registry, staleAfter time.Duration) *Revalidator {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Revalidator{store: st, catalog: reg, staleAfter: staleAfter}
}

// Run scans every stored draft once: drafts for unregistered capabilities and
// drafts idle past the stale cutoff are discarded, and the missing-field list
// of each surviving active draft is recomputed against the current catalog.
func (r *Revalidator) Run() error {
	drafts, err := r.store.ListDrafts()
	if err != nil {
		return fmt.Errorf("failed to list drafts for recovery: %w", err)
	}

	var discarded, updated int
	cutoff := time.Now().Add(-r.staleAfter)
	for i := range drafts {
		draft := &drafts[i]

		if !draft.Status.IsActive() {
			if err := r.store.DeleteDraft(draft.ToolName, draft.ConversationID); err != nil {
				return fmt.Errorf("failed to discard settled draft: %w", err)
			}
			discarded++
			continue
		}

		if draft.UpdatedAt.Before(cutoff) {
			slog.Info("Revalidator.Run: discarding stale draft", "toolName", draft.ToolName, "conversationID", draft.ConversationID, "updatedAt", draft.UpdatedAt)
			if err := r.store.DeleteDraft(draft.ToolName, draft.ConversationID); err != nil {
				return fmt.Errorf("failed to discard stale draft: %w", err)
			}
			discarded++
			continue
		}

		spec, ok := r.catalog.Get(draft.ToolName)
		if !ok {
			slog.Info("Revalidator.Run: discarding draft for unregistered capability", "toolName", draft.ToolName, "conversationID", draft.ConversationID)
			if err := r.store.DeleteDraft(draft.ToolName, draft.ConversationID); err != nil {
				return fmt.Errorf("failed to discard orphaned draft: %w", err)
			}
			discarded++
			continue
		}

		// Catalog drift: required fields may have been added or removed since
		// the draft was persisted.
		missing := spec.MissingFields(draft.Slots)
		if !equalFields(missing, draft.MissingFields) {
			draft.MissingFields = missing
			draft.UpdatedAt = time.Now()
			if err := r.store.SaveDraft(*draft); err != nil {
				return fmt.Errorf("failed to update drifted draft: %w", err)
			}
			updated++
		}
	}

	slog.Info("Revalidator.Run: draft revalidation complete", "scanned", len(drafts), "discarded", discarded, "updated", updated)
	return nil
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
