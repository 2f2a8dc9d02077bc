package flow

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/FormPipe/internal/extraction"
	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/provider"
	"github.com/BTreeMap/FormPipe/internal/testutil"
)

// mockCompleter returns a canned completion for extraction tests.
type mockCompleter struct {
	response string
	err      error
	prompts  []string
}

func (m *mockCompleter) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.prompts = append(m.prompts, userPrompt)
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func newCoordinator(f *plannerFixture, completer extraction.Completer) *Coordinator {
	var extractor *extraction.Extractor
	if completer != nil {
		extractor = extraction.NewExtractor(completer)
	}
	return NewCoordinator(f.planner, f.drafts, f.store, provider.NewGateway(f.invoker), extractor)
}

func TestTurn_NoActiveDraft(t *testing.T) {
	f := newPlannerFixture(t, testutil.ExpenseSpec())
	c := newCoordinator(f, nil)

	result, err := c.Turn(context.Background(), TurnRequest{ConversationID: "conv1", Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.InvokeStatusNoActiveDraft {
		t.Errorf("expected NO_ACTIVE_DRAFT, got %s", result.Status)
	}
}

func TestTurn_SubmittedDraftIsNotResumed(t *testing.T) {
	f := newPlannerFixture(t, testutil.ExpenseSpec())
	c := newCoordinator(f, nil)
	ctx := context.Background()

	f.planner.Invoke(ctx, invokeReq(map[string]interface{}{"department": "d1", "amount": "1"}))
	f.planner.Invoke(ctx, invokeReq(map[string]interface{}{"confirmed": true}))

	result, err := c.Turn(ctx, TurnRequest{ConversationID: "conv1", Text: "anything"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.InvokeStatusNoActiveDraft {
		t.Errorf("submitted draft must not resume, got %s", result.Status)
	}
}

func TestTurn_ExtractsAnswerIntoDraft(t *testing.T) {
	f := newPlannerFixture(t, testutil.ExpenseSpec())
	completer := &mockCompleter{response: `{"department": "Finance", "amount": "85"}`}
	c := newCoordinator(f, completer)
	ctx := context.Background()

	f.planner.Invoke(ctx, invokeReq(nil))

	result, err := c.Turn(ctx, TurnRequest{
		ConversationID: "conv1", TenantID: "tenant1", UserID: "user1",
		Text: "finance, 85 yuan",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.InvokeStatusWaitConfirm {
		t.Fatalf("expected WAIT_CONFIRM once both fields filled, got %s", result.Status)
	}
	// The option label resolves to its canonical value.
	if result.Preview["department"] != "d2" {
		t.Errorf("expected canonical department d2, got %v", result.Preview)
	}
	if result.Preview["amount"] != "85" {
		t.Errorf("expected amount 85, got %v", result.Preview)
	}
}

func TestTurn_AffirmativeTextConfirms(t *testing.T) {
	f := newPlannerFixture(t, testutil.ExpenseSpec())
	completer := &mockCompleter{response: `{}`}
	c := newCoordinator(f, completer)
	ctx := context.Background()

	f.planner.Invoke(ctx, invokeReq(map[string]interface{}{"department": "d1", "amount": "120"}))

	result, err := c.Turn(ctx, TurnRequest{ConversationID: "conv1", TenantID: "tenant1", Text: "确认"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.InvokeStatusSubmitted {
		t.Fatalf("expected SUBMITTED on affirmative turn, got %s", result.Status)
	}
	if len(f.invoker.submitRequests) != 1 {
		t.Errorf("expected one submission, got %d", len(f.invoker.submitRequests))
	}
}

func TestTurn_NonAffirmativeTextDoesNotConfirm(t *testing.T) {
	f := newPlannerFixture(t, testutil.ExpenseSpec())
	completer := &mockCompleter{response: `{}`}
	c := newCoordinator(f, completer)
	ctx := context.Background()

	f.planner.Invoke(ctx, invokeReq(map[string]interface{}{"department": "d1", "amount": "120"}))

	result, err := c.Turn(ctx, TurnRequest{ConversationID: "conv1", TenantID: "tenant1", Text: "hmm let me think"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.InvokeStatusWaitConfirm {
		t.Errorf("expected WAIT_CONFIRM preserved, got %s", result.Status)
	}
	if len(f.invoker.submitRequests) != 0 {
		t.Error("must not submit without a confirmation signal")
	}
}

func TestTurn_CancelDiscardsDraft(t *testing.T) {
	f := newPlannerFixture(t, testutil.ExpenseSpec())
	c := newCoordinator(f, nil)
	ctx := context.Background()

	f.planner.Invoke(ctx, invokeReq(map[string]interface{}{"amount": "5"}))

	result, err := c.Turn(ctx, TurnRequest{ConversationID: "conv1", Text: "取消"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.InvokeStatusCanceled {
		t.Fatalf("expected CANCELED, got %s", result.Status)
	}
	draft, _ := f.drafts.Get("expense_submit", "conv1")
	if draft != nil {
		t.Error("expected canceled draft discarded")
	}
}

func TestTurn_ExtractionFailureStillAsksQuestion(t *testing.T) {
	f := newPlannerFixture(t, testutil.ExpenseSpec())
	completer := &mockCompleter{response: "I could not determine any values."}
	c := newCoordinator(f, completer)
	ctx := context.Background()

	f.planner.Invoke(ctx, invokeReq(nil))

	result, err := c.Turn(ctx, TurnRequest{ConversationID: "conv1", TenantID: "tenant1", Text: "what?"})
	if err != nil {
		t.Fatalf("extraction failure must not error the turn: %v", err)
	}
	if result.Status != models.InvokeStatusSlotMissing {
		t.Errorf("expected SLOT_MISSING re-ask, got %s", result.Status)
	}
}

func multiDraftFixture(t *testing.T) (*plannerFixture, *Coordinator) {
	t.Helper()
	second := models.CapabilitySpec{
		ToolName:             "leave_request",
		Fields:               []models.FieldSpec{{Name: "type", Required: true}, {Name: "days", Required: true}},
		SlotFillingEnabled:   true,
		ConfirmationRequired: true,
		SubmitAction:         "submit_leave",
	}
	f := newPlannerFixture(t, testutil.ExpenseSpec(), second)
	ctx := context.Background()

	// Two active drafts in one conversation, expense created first.
	if _, err := f.planner.Invoke(ctx, invokeReq(map[string]interface{}{"amount": "1"})); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := f.planner.Invoke(ctx, InvokeRequest{
		ToolName: "leave_request", ConversationID: "conv1", TenantID: "tenant1",
		Arguments: map[string]interface{}{"type": "annual"},
	}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	return f, newCoordinator(f, &mockCompleter{response: `{}`})
}

func TestTurn_SelectsDraftNamedByToolHistory(t *testing.T) {
	_, c := multiDraftFixture(t)

	result, err := c.Turn(context.Background(), TurnRequest{
		ConversationID: "conv1", TenantID: "tenant1", Text: "three days",
		History: []HistoryEntry{
			{Role: "assistant", Content: "Which department?"},
			{Role: "tool", Content: `{"tool_name":"leave_request","status":"SLOT_MISSING"}`},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ToolName != "leave_request" {
		t.Errorf("expected history-referenced draft resumed, got %s", result.ToolName)
	}
}

func TestTurn_SelectsDraftBySubstringFallback(t *testing.T) {
	_, c := multiDraftFixture(t)

	result, err := c.Turn(context.Background(), TurnRequest{
		ConversationID: "conv1", TenantID: "tenant1", Text: "ok",
		History: []HistoryEntry{
			{Role: "tool", Content: "result of leave_request: still collecting"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ToolName != "leave_request" {
		t.Errorf("expected substring-referenced draft resumed, got %s", result.ToolName)
	}
}

func TestTurn_FallsBackToEarliestDraft(t *testing.T) {
	_, c := multiDraftFixture(t)

	result, err := c.Turn(context.Background(), TurnRequest{
		ConversationID: "conv1", TenantID: "tenant1", Text: "120",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ToolName != "expense_submit" {
		t.Errorf("expected earliest draft resumed, got %s", result.ToolName)
	}
}

func TestTurn_UnregisteredCapabilityDraftDiscarded(t *testing.T) {
	f := newPlannerFixture(t, testutil.ExpenseSpec())
	c := newCoordinator(f, nil)
	ctx := context.Background()

	f.planner.Invoke(ctx, invokeReq(map[string]interface{}{"amount": "1"}))
	if err := f.planner.catalog.Delete("expense_submit"); err != nil {
		t.Fatalf("failed to unregister: %v", err)
	}

	result, err := c.Turn(ctx, TurnRequest{ConversationID: "conv1", Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.InvokeStatusNoActiveDraft {
		t.Errorf("expected NO_ACTIVE_DRAFT after discard, got %s", result.Status)
	}
	draft, _ := f.drafts.Get("expense_submit", "conv1")
	if draft != nil {
		t.Error("expected orphaned draft discarded")
	}
}
