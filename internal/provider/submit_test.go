package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/FormPipe/internal/models"
)

func submitSpec() models.CapabilitySpec {
	return models.CapabilitySpec{
		ToolName:     "expense_submit",
		Fields:       []models.FieldSpec{{Name: "amount", Required: true}},
		SubmitAction: "submit_expense",
	}
}

func TestSubmit_Success(t *testing.T) {
	inv := &mockInvoker{submitResponse: &SubmitResponse{HTTPStatus: 200, Body: `{"id":"e1"}`}}
	s := NewSubmitter(inv)

	outcome := s.Submit(context.Background(), *testBinding(), submitSpec(), map[string]string{"amount": "120"}, nil, "user1")
	if !outcome.Success {
		t.Errorf("expected success, got %+v", outcome)
	}
	if outcome.HTTPStatus != 200 {
		t.Errorf("expected status 200, got %d", outcome.HTTPStatus)
	}

	if len(inv.submitRequests) != 1 {
		t.Fatalf("expected one submit call, got %d", len(inv.submitRequests))
	}
	req := inv.submitRequests[0]
	if req.Action != "submit_expense" || req.FormData["amount"] != "120" || req.UserID != "user1" {
		t.Errorf("unexpected submit request: %+v", req)
	}
}

func TestSubmit_TransportError(t *testing.T) {
	inv := &mockInvoker{submitErr: errors.New("connection refused")}
	s := NewSubmitter(inv)

	outcome := s.Submit(context.Background(), *testBinding(), submitSpec(), map[string]string{}, nil, "u")
	if outcome.Success {
		t.Error("expected failure on transport error")
	}
	if outcome.Message == "" {
		t.Error("expected failure message")
	}
}

func TestSubmit_HTTPErrorStatus(t *testing.T) {
	inv := &mockInvoker{submitResponse: &SubmitResponse{HTTPStatus: 500, Body: "boom"}}
	s := NewSubmitter(inv)

	outcome := s.Submit(context.Background(), *testBinding(), submitSpec(), map[string]string{}, nil, "u")
	if outcome.Success {
		t.Error("expected failure on HTTP 500")
	}
	if outcome.HTTPStatus != 500 {
		t.Errorf("expected status 500, got %d", outcome.HTTPStatus)
	}
}

func TestSubmit_EnvelopeFailureDespiteHTTP200(t *testing.T) {
	inv := &mockInvoker{submitResponse: &SubmitResponse{HTTPStatus: 200, Body: `{"code":40001,"message":"budget exceeded"}`}}
	s := NewSubmitter(inv)

	outcome := s.Submit(context.Background(), *testBinding(), submitSpec(), map[string]string{}, nil, "u")
	if outcome.Success {
		t.Error("expected failure from non-zero envelope code")
	}
	if outcome.Message != "budget exceeded" {
		t.Errorf("expected provider message, got %q", outcome.Message)
	}
}

func TestSubmit_EnvelopeZeroCodeSucceeds(t *testing.T) {
	inv := &mockInvoker{submitResponse: &SubmitResponse{HTTPStatus: 200, Body: `{"code":0,"data":{"id":"e1"}}`}}
	s := NewSubmitter(inv)

	outcome := s.Submit(context.Background(), *testBinding(), submitSpec(), map[string]string{}, nil, "u")
	if !outcome.Success {
		t.Errorf("expected success for envelope code 0, got %+v", outcome)
	}
}

func TestSubmit_NonJSONBodySucceeds(t *testing.T) {
	inv := &mockInvoker{submitResponse: &SubmitResponse{HTTPStatus: 201, Body: "created"}}
	s := NewSubmitter(inv)

	outcome := s.Submit(context.Background(), *testBinding(), submitSpec(), map[string]string{}, nil, "u")
	if !outcome.Success {
		t.Errorf("expected success for 2xx with raw body, got %+v", outcome)
	}
}
