package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// mockInvoker implements Invoker for testing.
type mockInvoker struct {
	optionResponses  map[string]*OptionQueryResponse
	defaultResponses map[string]*DefaultValueResponse
	submitResponse   *SubmitResponse
	optionErr        error
	defaultErr       error
	submitErr        error

	optionRequests  []OptionQueryRequest
	defaultRequests []DefaultValueRequest
	submitRequests  []SubmitRequest
}

func (m *mockInvoker) InvokeOptionQuery(ctx context.Context, binding models.ProviderBinding, req OptionQueryRequest) (*OptionQueryResponse, error) {
	m.optionRequests = append(m.optionRequests, req)
	if m.optionErr != nil {
		return nil, m.optionErr
	}
	return m.optionResponses[req.FieldName], nil
}

func (m *mockInvoker) InvokeDefaultValue(ctx context.Context, binding models.ProviderBinding, req DefaultValueRequest) (*DefaultValueResponse, error) {
	m.defaultRequests = append(m.defaultRequests, req)
	if m.defaultErr != nil {
		return nil, m.defaultErr
	}
	return m.defaultResponses[req.FieldName], nil
}

func (m *mockInvoker) InvokeSubmit(ctx context.Context, binding models.ProviderBinding, req SubmitRequest) (*SubmitResponse, error) {
	m.submitRequests = append(m.submitRequests, req)
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.submitResponse, nil
}

func testBinding() *models.ProviderBinding {
	return &models.ProviderBinding{TenantID: "tenant1", BaseURL: "https://provider.example", Token: "secret"}
}

func gatewaySpec() models.CapabilitySpec {
	return models.CapabilitySpec{
		ToolName: "expense_submit",
		Fields: []models.FieldSpec{
			{Name: "department", Required: true, InputMode: models.InputModeSelectSingle, OptionQueryAction: "query_departments"},
			{Name: "project", Required: true, InputMode: models.InputModeSelectSingle, OptionQueryAction: "query_projects", DependsOn: []string{"department"}},
			{Name: "currency", Required: true, InputMode: models.InputModeSelectSingle, DefaultValueAction: "default_currency"},
			{Name: "amount", Required: true, InputMode: models.InputModeSingleValue},
		},
		SlotFillingEnabled: true,
		SubmitAction:       "submit_expense",
	}
}

func TestResolveHints_DefaultAppliedBeforeOptions(t *testing.T) {
	inv := &mockInvoker{
		defaultResponses: map[string]*DefaultValueResponse{"currency": {Value: "CNY", Label: "人民币"}},
		optionResponses:  map[string]*OptionQueryResponse{"department": {Items: []models.OptionItem{{Label: "Engineering", Value: "d1"}}}},
	}
	g := NewGateway(inv)

	missing := []string{"department", "project", "currency", "amount"}
	hints, defaulted := g.ResolveHints(context.Background(), testBinding(), gatewaySpec(), missing, map[string]string{}, "user1")

	if defaulted["currency"] != "CNY" {
		t.Errorf("expected currency defaulted to CNY, got %v", defaulted)
	}
	hint, ok := hints["currency"]
	if !ok || !hint.DefaultApplied || hint.DefaultValue != "CNY" {
		t.Errorf("expected defaultApplied hint for currency, got %+v", hint)
	}

	// Defaulted fields are skipped for option queries.
	for _, req := range inv.optionRequests {
		if req.FieldName == "currency" {
			t.Error("defaulted field must not be option-queried")
		}
	}
}

func TestResolveHints_DependsOnGatesOptionQuery(t *testing.T) {
	inv := &mockInvoker{
		optionResponses: map[string]*OptionQueryResponse{
			"department": {Items: []models.OptionItem{{Label: "Engineering", Value: "d1"}}},
			"project":    {Items: []models.OptionItem{{Label: "Apollo", Value: "p1"}}},
		},
	}
	g := NewGateway(inv)
	spec := gatewaySpec()

	// department unresolved: project query must be skipped.
	hints, _ := g.ResolveHints(context.Background(), testBinding(), spec, []string{"department", "project"}, map[string]string{}, "user1")
	if _, ok := hints["project"]; ok {
		t.Error("expected project hint to be absent while department is unresolved")
	}
	if _, ok := hints["department"]; !ok {
		t.Error("expected department hint")
	}

	// department resolved: project query proceeds with slots as context.
	inv.optionRequests = nil
	hints, _ = g.ResolveHints(context.Background(), testBinding(), spec, []string{"project"}, map[string]string{"department": "d1"}, "user1")
	if _, ok := hints["project"]; !ok {
		t.Error("expected project hint once dependency resolved")
	}
	if len(inv.optionRequests) != 1 || inv.optionRequests[0].Slots["department"] != "d1" {
		t.Errorf("expected dependency value in request slots, got %+v", inv.optionRequests)
	}
}

func TestResolveHints_DefaultUnblocksDependentQuery(t *testing.T) {
	spec := models.CapabilitySpec{
		ToolName: "t",
		Fields: []models.FieldSpec{
			{Name: "region", Required: true, DefaultValueAction: "default_region", InputMode: models.InputModeSelectSingle},
			{Name: "city", Required: true, OptionQueryAction: "query_cities", DependsOn: []string{"region"}, InputMode: models.InputModeSelectSingle},
		},
		SlotFillingEnabled: true,
		SubmitAction:       "submit",
	}
	inv := &mockInvoker{
		defaultResponses: map[string]*DefaultValueResponse{"region": {Value: "cn-east"}},
		optionResponses:  map[string]*OptionQueryResponse{"city": {Items: []models.OptionItem{{Label: "杭州", Value: "hz"}}}},
	}
	g := NewGateway(inv)

	hints, defaulted := g.ResolveHints(context.Background(), testBinding(), spec, []string{"region", "city"}, map[string]string{}, "u")
	if defaulted["region"] != "cn-east" {
		t.Fatalf("expected region default, got %v", defaulted)
	}
	if _, ok := hints["city"]; !ok {
		t.Error("expected city options resolvable after region defaulted this turn")
	}
}

func TestResolveHints_CursorReadFromSlots(t *testing.T) {
	inv := &mockInvoker{
		optionResponses: map[string]*OptionQueryResponse{"department": {Items: nil, Cursor: "next", HasMore: true}},
	}
	g := NewGateway(inv, WithPageSize(5))

	slots := map[string]string{"department_cursor": "page2"}
	hints, _ := g.ResolveHints(context.Background(), testBinding(), gatewaySpec(), []string{"department"}, slots, "u")
	if len(inv.optionRequests) != 1 {
		t.Fatalf("expected one option request, got %d", len(inv.optionRequests))
	}
	if inv.optionRequests[0].Cursor != "page2" {
		t.Errorf("expected cursor page2, got %q", inv.optionRequests[0].Cursor)
	}
	if inv.optionRequests[0].Limit != 5 {
		t.Errorf("expected page size 5, got %d", inv.optionRequests[0].Limit)
	}
	if hints["department"].NextCursor != "next" || !hints["department"].HasMore {
		t.Errorf("pagination not propagated: %+v", hints["department"])
	}

	// Alternate cursor key shape.
	inv.optionRequests = nil
	g.ResolveHints(context.Background(), testBinding(), gatewaySpec(), []string{"department"}, map[string]string{"cursor_department": "alt"}, "u")
	if inv.optionRequests[0].Cursor != "alt" {
		t.Errorf("expected alternate cursor key to be honored, got %q", inv.optionRequests[0].Cursor)
	}
}

func TestResolveHints_ProviderFailureIsAbsorbed(t *testing.T) {
	inv := &mockInvoker{
		optionErr:  errors.New("provider down"),
		defaultErr: errors.New("provider down"),
	}
	g := NewGateway(inv)

	hints, defaulted := g.ResolveHints(context.Background(), testBinding(), gatewaySpec(), []string{"department", "currency"}, map[string]string{}, "u")
	if len(hints) != 0 {
		t.Errorf("expected no hints on provider failure, got %+v", hints)
	}
	if len(defaulted) != 0 {
		t.Errorf("expected no defaults on provider failure, got %+v", defaulted)
	}
}

func TestResolveHints_BlankDefaultIgnored(t *testing.T) {
	inv := &mockInvoker{
		defaultResponses: map[string]*DefaultValueResponse{"currency": {Value: ""}},
	}
	g := NewGateway(inv)

	_, defaulted := g.ResolveHints(context.Background(), testBinding(), gatewaySpec(), []string{"currency"}, map[string]string{}, "u")
	if len(defaulted) != 0 {
		t.Errorf("blank default must not be applied, got %+v", defaulted)
	}
}

func TestResolveHints_NilBindingSkipsAllCalls(t *testing.T) {
	inv := &mockInvoker{}
	g := NewGateway(inv)

	hints, defaulted := g.ResolveHints(context.Background(), nil, gatewaySpec(), []string{"department", "currency"}, map[string]string{}, "u")
	if len(hints) != 0 || len(defaulted) != 0 {
		t.Errorf("expected nothing resolved without a binding")
	}
	if len(inv.optionRequests)+len(inv.defaultRequests) != 0 {
		t.Error("expected no provider calls without a binding")
	}
}
