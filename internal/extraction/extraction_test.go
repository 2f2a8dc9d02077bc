package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// mockCompleter implements Completer for testing.
type mockCompleter struct {
	response   string
	err        error
	lastSystem string
	lastUser   string
	calls      int
}

func (m *mockCompleter) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.calls++
	m.lastSystem = systemPrompt
	m.lastUser = userPrompt
	return m.response, m.err
}

func reportSpec() models.CapabilitySpec {
	return models.CapabilitySpec{
		ToolName: "report_submit",
		Fields: []models.FieldSpec{
			{Name: "types", Description: "报告类型", Required: true, InputMode: models.InputModeSelectSingle,
				Options: []models.OptionItem{{Label: "日报", Value: "1"}, {Label: "周报", Value: "2"}, {Label: "月报", Value: "3"}}},
			{Name: "works", Description: "工作内容", Required: true, InputMode: models.InputModeSingleValue},
		},
		SlotFillingEnabled:   true,
		ConfirmationRequired: true,
		SubmitAction:         "submit_report",
	}
}

func TestCandidateFields_ExcludesDisabled(t *testing.T) {
	spec := reportSpec()
	spec.Fields[0].InferMode = models.InferModeDisabled

	candidates := CandidateFields(spec, []string{"types", "works"})
	if len(candidates) != 1 || candidates[0] != "works" {
		t.Errorf("expected [works], got %v", candidates)
	}
}

func TestExtract_LabelMapsToCanonicalValue(t *testing.T) {
	// Scenario: extraction returns a label, the merged slot must carry the value.
	completer := &mockCompleter{response: `{"types": "周报"}`}
	e := NewExtractor(completer)

	got := e.Extract(context.Background(), "帮我写周报", reportSpec(), []string{"types", "works"}, nil, nil)
	if got["types"] != "2" {
		t.Errorf("expected label 周报 to map to canonical value 2, got %q", got["types"])
	}
}

func TestExtract_CanonicalValuePassesThrough(t *testing.T) {
	completer := &mockCompleter{response: `{"types": "2"}`}
	e := NewExtractor(completer)

	got := e.Extract(context.Background(), "type 2", reportSpec(), []string{"types"}, nil, nil)
	if got["types"] != "2" {
		t.Errorf("expected canonical value to survive, got %q", got["types"])
	}
}

func TestExtract_UnmatchedLiteralOnEnumeratedFieldUnresolved(t *testing.T) {
	completer := &mockCompleter{response: `{"types": "年报"}`}
	e := NewExtractor(completer)

	got := e.Extract(context.Background(), "年报", reportSpec(), []string{"types"}, nil, nil)
	if _, ok := got["types"]; ok {
		t.Errorf("expected unmatched literal to stay unresolved, got %q", got["types"])
	}
}

func TestExtract_FreeTextPassesThroughLiteral(t *testing.T) {
	completer := &mockCompleter{response: `{"works": "本周完成联调"}`}
	e := NewExtractor(completer)

	got := e.Extract(context.Background(), "本周完成联调", reportSpec(), []string{"works"}, nil, nil)
	if got["works"] != "本周完成联调" {
		t.Errorf("expected literal passthrough, got %q", got["works"])
	}
}

func TestExtract_DropsNonCandidateKeys(t *testing.T) {
	completer := &mockCompleter{response: `{"types": "2", "works": "x", "intruder": "y"}`}
	e := NewExtractor(completer)

	got := e.Extract(context.Background(), "msg", reportSpec(), []string{"works"}, nil, nil)
	if len(got) != 1 || got["works"] != "x" {
		t.Errorf("expected only candidate keys, got %v", got)
	}
}

func TestExtract_MultiSelectJoinsCanonicalValues(t *testing.T) {
	spec := reportSpec()
	spec.Fields = append(spec.Fields, models.FieldSpec{
		Name: "cc", InputMode: models.InputModeSelectMulti,
		Options: []models.OptionItem{{Label: "张三", Value: "u1"}, {Label: "李四", Value: "u2"}, {Label: "王五", Value: "u3"}},
	})
	completer := &mockCompleter{response: `{"cc": "张三，u2; 张三"}`}
	e := NewExtractor(completer)

	got := e.Extract(context.Background(), "抄送张三和李四", spec, []string{"cc"}, nil, nil)
	if got["cc"] != "u1,u2" {
		t.Errorf("expected de-duplicated canonical list u1,u2, got %q", got["cc"])
	}
}

func TestExtract_MultiSelectArrayForm(t *testing.T) {
	spec := reportSpec()
	spec.Fields = append(spec.Fields, models.FieldSpec{
		Name: "cc", InputMode: models.InputModeSelectMulti,
		Options: []models.OptionItem{{Label: "张三", Value: "u1"}, {Label: "李四", Value: "u2"}},
	})
	completer := &mockCompleter{response: `{"cc": ["李四", "张三"]}`}
	e := NewExtractor(completer)

	got := e.Extract(context.Background(), "msg", spec, []string{"cc"}, nil, nil)
	if got["cc"] != "u2,u1" {
		t.Errorf("expected order-preserving canonical list, got %q", got["cc"])
	}
}

func TestExtract_ProviderOptionsFeedAliasTable(t *testing.T) {
	spec := reportSpec()
	spec.Fields = append(spec.Fields, models.FieldSpec{
		Name: "project", InputMode: models.InputModeSelectSingle, OptionQueryAction: "query_projects",
	})
	hints := map[string]models.FieldHint{
		"project": {Options: []models.OptionItem{{Label: "Apollo", Value: "p_42"}}},
	}
	completer := &mockCompleter{response: `{"project": "apollo"}`}
	e := NewExtractor(completer)

	got := e.Extract(context.Background(), "the apollo one", spec, []string{"project"}, nil, hints)
	if got["project"] != "p_42" {
		t.Errorf("expected provider option alias to resolve, got %q", got["project"])
	}
}

func TestExtract_CompleterFailureYieldsNothing(t *testing.T) {
	completer := &mockCompleter{err: errors.New("collaborator down")}
	e := NewExtractor(completer)

	got := e.Extract(context.Background(), "帮我写周报", reportSpec(), []string{"types"}, nil, nil)
	if len(got) != 0 {
		t.Errorf("expected zero extractions on completer failure, got %v", got)
	}
}

func TestExtract_GarbageOutputYieldsNothing(t *testing.T) {
	completer := &mockCompleter{response: "sorry, I can't do that"}
	e := NewExtractor(completer)

	got := e.Extract(context.Background(), "msg", reportSpec(), []string{"types"}, nil, nil)
	if len(got) != 0 {
		t.Errorf("expected zero extractions on unparseable output, got %v", got)
	}
}

func TestExtract_EmptyCandidatesSkipsCompletion(t *testing.T) {
	completer := &mockCompleter{response: `{"types": "2"}`}
	e := NewExtractor(completer)

	got := e.Extract(context.Background(), "msg", reportSpec(), nil, nil, nil)
	if len(got) != 0 {
		t.Errorf("expected no extractions, got %v", got)
	}
	if completer.calls != 0 {
		t.Errorf("expected completion to be skipped, got %d calls", completer.calls)
	}
}

func TestExtract_BlankValuesDropped(t *testing.T) {
	completer := &mockCompleter{response: `{"works": "   "}`}
	e := NewExtractor(completer)

	got := e.Extract(context.Background(), "msg", reportSpec(), []string{"works"}, nil, nil)
	if len(got) != 0 {
		t.Errorf("expected blank value to be dropped, got %v", got)
	}
}

func TestExtract_PromptContents(t *testing.T) {
	completer := &mockCompleter{response: `{}`}
	e := NewExtractor(completer)

	known := map[string]string{"types": "2"}
	e.Extract(context.Background(), "some user text", reportSpec(), []string{"works"}, known, nil)

	if completer.calls != 1 {
		t.Fatalf("expected exactly one completion call, got %d", completer.calls)
	}
	if !strings.Contains(completer.lastUser, "works: 工作内容") {
		t.Errorf("prompt missing candidate field description: %s", completer.lastUser)
	}
	if strings.Contains(completer.lastUser, "日报(1)") {
		t.Errorf("prompt should not enumerate non-candidate fields: %s", completer.lastUser)
	}
	if !strings.Contains(completer.lastUser, "types = 2") {
		t.Errorf("prompt missing known slots: %s", completer.lastUser)
	}
	if !strings.Contains(completer.lastUser, "some user text") {
		t.Errorf("prompt missing utterance: %s", completer.lastUser)
	}
}

func TestExtract_PromptEnumeratesOptions(t *testing.T) {
	completer := &mockCompleter{response: `{}`}
	e := NewExtractor(completer)

	e.Extract(context.Background(), "text", reportSpec(), []string{"types"}, nil, nil)
	for _, rendered := range []string{"日报(1)", "周报(2)", "月报(3)"} {
		if !strings.Contains(completer.lastUser, rendered) {
			t.Errorf("prompt missing rendered option %s: %s", rendered, completer.lastUser)
		}
	}
}
