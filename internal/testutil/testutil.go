// Package testutil provides shared fixtures and helpers for FormPipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/store"
)

// ExpenseSpec returns the expense capability used across flow tests: one
// provider-enumerated field, one free-text field, and one optional field.
func ExpenseSpec() models.CapabilitySpec {
	return models.CapabilitySpec{
		ToolName:    "expense_submit",
		Description: "Submit an expense report",
		Fields: []models.FieldSpec{
			{Name: "department", Description: "Department", Required: true, InputMode: models.InputModeSelectSingle, OptionQueryAction: "query_departments"},
			{Name: "amount", Description: "Amount", Required: true, InputMode: models.InputModeSingleValue},
			{Name: "note", Description: "Note", Required: false, InputMode: models.InputModeSingleValue},
		},
		SlotFillingEnabled:   true,
		ConfirmationRequired: true,
		SubmitAction:         "submit_expense",
	}
}

// ReportSpec returns the report capability used across API and planner tests:
// a statically enumerated type field plus free-text content.
func ReportSpec() models.CapabilitySpec {
	return models.CapabilitySpec{
		ToolName:    "report_create",
		Description: "Create a work report",
		Fields: []models.FieldSpec{
			{
				Name:        "types",
				Description: "Report type",
				Required:    true,
				InputMode:   models.InputModeSelectSingle,
				Options: []models.OptionItem{
					{Label: "日报", Value: "1"},
					{Label: "周报", Value: "2"},
					{Label: "月报", Value: "3"},
				},
			},
			{Name: "works", Description: "Work content", Required: true, InputMode: models.InputModeSingleValue},
		},
		SlotFillingEnabled:   true,
		ConfirmationRequired: true,
		SubmitAction:         "create_report",
	}
}

// SeedBinding stores a provider binding for the given tenant.
func SeedBinding(t *testing.T, st store.Store, tenantID string) {
	t.Helper()
	err := st.SaveBinding(models.ProviderBinding{
		TenantID: tenantID,
		BaseURL:  "https://provider.example",
		Token:    "test-token",
	})
	if err != nil {
		t.Fatalf("failed to seed binding: %v", err)
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// MustMarshalJSON marshals v, failing the test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals data into target, failing the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
