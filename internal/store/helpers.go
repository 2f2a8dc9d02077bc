package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// marshalCapability serializes a capability spec for storage.
func marshalCapability(spec models.CapabilitySpec) (string, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal capability spec: %w", err)
	}
	return string(data), nil
}

// unmarshalCapability deserializes a stored capability spec.
func unmarshalCapability(specJSON string) (*models.CapabilitySpec, error) {
	var spec models.CapabilitySpec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capability spec: %w", err)
	}
	return &spec, nil
}

// marshalDraftFields serializes the JSON columns of a draft row.
func marshalDraftFields(draft models.Draft) (slotsJSON, missingJSON, labelsJSON string, err error) {
	if len(draft.Slots) > 0 {
		data, merr := json.Marshal(draft.Slots)
		if merr != nil {
			return "", "", "", fmt.Errorf("failed to marshal draft slots: %w", merr)
		}
		slotsJSON = string(data)
	}
	if len(draft.MissingFields) > 0 {
		data, merr := json.Marshal(draft.MissingFields)
		if merr != nil {
			return "", "", "", fmt.Errorf("failed to marshal draft missing fields: %w", merr)
		}
		missingJSON = string(data)
	}
	if len(draft.FieldLabels) > 0 {
		data, merr := json.Marshal(draft.FieldLabels)
		if merr != nil {
			return "", "", "", fmt.Errorf("failed to marshal draft field labels: %w", merr)
		}
		labelsJSON = string(data)
	}
	return slotsJSON, missingJSON, labelsJSON, nil
}

// unmarshalDraftFields restores the JSON columns into a draft. Corrupt JSON is
// tolerated field by field so one bad column never loses the whole draft.
func unmarshalDraftFields(draft *models.Draft, slotsJSON, missingJSON, labelsJSON string) {
	draft.Slots = make(map[string]string)
	if slotsJSON != "" {
		if err := json.Unmarshal([]byte(slotsJSON), &draft.Slots); err != nil {
			draft.Slots = make(map[string]string)
		}
	}
	if missingJSON != "" {
		if err := json.Unmarshal([]byte(missingJSON), &draft.MissingFields); err != nil {
			draft.MissingFields = nil
		}
	}
	if labelsJSON != "" {
		if err := json.Unmarshal([]byte(labelsJSON), &draft.FieldLabels); err != nil {
			draft.FieldLabels = nil
		}
	}
}

// scanDraftRow scans a Draft from a single sql.Row.
func scanDraftRow(row *sql.Row) (*models.Draft, error) {
	var d models.Draft
	var slotsJSON, missingJSON, labelsJSON sql.NullString
	var tenantID, userID sql.NullString
	var status string
	err := row.Scan(&d.ToolName, &d.ConversationID, &d.ID, &tenantID, &userID,
		&slotsJSON, &status, &missingJSON, &labelsJSON, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.TenantID = tenantID.String
	d.UserID = userID.String
	d.Status = models.DraftStatus(status)
	unmarshalDraftFields(&d, slotsJSON.String, missingJSON.String, labelsJSON.String)
	return &d, nil
}

// collectDrafts scans all drafts from sql.Rows.
func collectDrafts(rows *sql.Rows) ([]models.Draft, error) {
	var drafts []models.Draft
	for rows.Next() {
		var d models.Draft
		var slotsJSON, missingJSON, labelsJSON sql.NullString
		var tenantID, userID sql.NullString
		var status string
		err := rows.Scan(&d.ToolName, &d.ConversationID, &d.ID, &tenantID, &userID,
			&slotsJSON, &status, &missingJSON, &labelsJSON, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft row: %w", err)
		}
		d.TenantID = tenantID.String
		d.UserID = userID.String
		d.Status = models.DraftStatus(status)
		unmarshalDraftFields(&d, slotsJSON.String, missingJSON.String, labelsJSON.String)
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate draft rows: %w", err)
	}
	return drafts, nil
}
