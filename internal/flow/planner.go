package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/FormPipe/internal/catalog"
	"github.com/BTreeMap/FormPipe/internal/confirm"
	"github.com/BTreeMap/FormPipe/internal/extraction"
	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/provider"
	"github.com/BTreeMap/FormPipe/internal/store"
)

// InvokeRequest is one structured capability invocation turn.
type InvokeRequest struct {
	ToolName       string                 `json:"tool_name"`
	ConversationID string                 `json:"conversation_id"`
	TenantID       string                 `json:"tenant_id,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
	Arguments      map[string]interface{} `json:"arguments,omitempty"`
}

// Planner runs the per-turn state machine for one capability draft: merge
// arguments, resolve hints, then collect, confirm, or submit.
type Planner struct {
	catalog   *catalog.Registry
	store     store.Store
	drafts    *DraftManager
	gateway   *provider.Gateway
	submitter *provider.Submitter

	// convLocks serializes turns per conversation; independent conversations
	// proceed concurrently.
	convLocks conversationLocks
}

// conversationLocks hands out one mutex per conversation and evicts the
// entry once the last holder releases it, so idle conversations leave
// nothing behind.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*conversationLock
}

type conversationLock struct {
	mu   sync.Mutex
	refs int
}

// acquire blocks until the conversation's turn lock is held and returns the
// release func.
func (c *conversationLocks) acquire(conversationID string) func() {
	c.mu.Lock()
	if c.locks == nil {
		c.locks = make(map[string]*conversationLock)
	}
	l := c.locks[conversationID]
	if l == nil {
		l = &conversationLock{}
		c.locks[conversationID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, conversationID)
		}
		c.mu.Unlock()
	}
}

// NewPlanner creates a planner over the given collaborators.
func NewPlanner(reg *catalog.Registry, st store.Store, drafts *DraftManager, gateway *provider.Gateway, submitter *provider.Submitter) *Planner {
	return &Planner{
		catalog:   reg,
		store:     st,
		drafts:    drafts,
		gateway:   gateway,
		submitter: submitter,
	}
}

// lockConversation acquires the conversation's turn lock and returns its
// release func.
func (p *Planner) lockConversation(conversationID string) func() {
	return p.convLocks.acquire(conversationID)
}

// resolvedHints carries provider resolution already performed this turn, so a
// coordinator that resolved hints for extraction does not trigger a second
// round of provider calls.
type resolvedHints struct {
	hints     map[string]models.FieldHint
	defaulted map[string]string
}

// Invoke runs one planner transition for a structured invocation.
func (p *Planner) Invoke(ctx context.Context, req InvokeRequest) (models.InvokeResult, error) {
	if req.ConversationID == "" {
		return models.InvokeResult{}, models.ErrEmptyConversationID
	}
	unlock := p.lockConversation(req.ConversationID)
	defer unlock()
	return p.invoke(ctx, req, nil)
}

func (p *Planner) invoke(ctx context.Context, req InvokeRequest, pre *resolvedHints) (models.InvokeResult, error) {
	slog.Debug("Planner.Invoke: processing turn", "toolName", req.ToolName, "conversationID", req.ConversationID)

	spec, ok := p.catalog.Get(req.ToolName)
	if !ok {
		return models.InvokeResult{}, fmt.Errorf("capability %s: %w", req.ToolName, models.ErrCapabilityNotFound)
	}

	binding, err := p.store.GetBinding(req.TenantID)
	if err != nil {
		return models.InvokeResult{}, fmt.Errorf("failed to resolve binding: %w", err)
	}

	if !spec.SlotFillingEnabled {
		return p.directSubmit(ctx, spec, binding, req), nil
	}

	draft, err := p.drafts.GetOrCreate(spec, req.ConversationID, req.TenantID, req.UserID)
	if err != nil {
		return models.InvokeResult{}, err
	}

	confirmed := false
	if v, ok := req.Arguments[confirm.ConfirmationArgName]; ok {
		confirmed = confirm.ArgumentMeansConfirmed(v)
	}
	var preHints map[string]models.FieldHint
	if pre != nil {
		preHints = pre.hints
	}
	p.mergeArguments(draft, &spec, req.Arguments, preHints)

	missing := spec.MissingFields(draft.Slots)

	// Provider resolution: defaults first, then options for what stays missing.
	var hints map[string]models.FieldHint
	if pre != nil {
		hints = pre.hints
		applyDefaults(draft, pre.defaulted)
	} else {
		var defaulted map[string]string
		hints, defaulted = p.gateway.ResolveHints(ctx, binding, spec, missing, draft.Slots, req.UserID)
		applyDefaults(draft, defaulted)
	}
	missing = spec.MissingFields(draft.Slots)

	if len(missing) > 0 {
		return p.collect(spec, binding, draft, missing, hints)
	}

	if spec.ConfirmationRequired && !confirmed {
		return p.awaitConfirmation(spec, draft)
	}

	return p.submit(ctx, spec, binding, draft, req.Arguments)
}

// directSubmit handles capabilities with slot filling disabled: the arguments
// go to the provider in one shot, no draft is persisted.
func (p *Planner) directSubmit(ctx context.Context, spec models.CapabilitySpec, binding *models.ProviderBinding, req InvokeRequest) models.InvokeResult {
	if binding == nil {
		return bindingMissingResult(spec.ToolName, req.ConversationID, req.TenantID)
	}
	slots := make(map[string]string, len(req.Arguments))
	for name, v := range req.Arguments {
		if s := stringifyArgument(v); s != "" {
			slots[name] = s
		}
	}
	outcome := p.submitter.Submit(ctx, *binding, spec, slots, req.Arguments, req.UserID)
	result := models.InvokeResult{
		ToolName:       spec.ToolName,
		ConversationID: req.ConversationID,
		Success:        outcome.Success,
		HTTPStatus:     outcome.HTTPStatus,
		Message:        outcome.Message,
		CollectedSlots: slots,
	}
	if outcome.Success {
		result.Status = models.InvokeStatusSubmitted
	} else {
		result.Status = models.InvokeStatusSubmitFailed
	}
	return result
}

// mergeArguments writes explicit argument values into the draft's slots.
// Explicit values win over anything inferred earlier; unknown names are
// ignored, apart from pagination cursors for declared fields. Values for
// selection fields go through the alias table so a label never lands in a
// slot: an unmatched literal on a fully enumerated field leaves the field
// unresolved.
func (p *Planner) mergeArguments(draft *models.Draft, spec *models.CapabilitySpec, args map[string]interface{}, hints map[string]models.FieldHint) {
	for name, v := range args {
		if name == confirm.ConfirmationArgName {
			continue
		}
		if field, ok := spec.Field(name); ok {
			s := stringifyArgument(v)
			if s == "" {
				continue
			}
			s = extraction.CanonicalizeValue(field, hints[name], s)
			if s == "" {
				slog.Debug("Planner.mergeArguments: value matches no option, field stays unresolved", "toolName", spec.ToolName, "field", name)
				continue
			}
			draft.Slots[name] = s
			continue
		}
		if field, ok := cursorField(name); ok {
			if _, declared := spec.Field(field); declared {
				if s := stringifyArgument(v); s != "" {
					draft.Slots[name] = s
				}
				continue
			}
		}
		slog.Debug("Planner.mergeArguments: ignoring unknown argument", "toolName", spec.ToolName, "argument", name)
	}
}

// collect persists the COLLECTING draft and plans the next question.
func (p *Planner) collect(spec models.CapabilitySpec, binding *models.ProviderBinding, draft *models.Draft, missing []string, hints map[string]models.FieldHint) (models.InvokeResult, error) {
	draft.Status = models.DraftStatusCollecting
	draft.MissingFields = missing
	if draft.FieldLabels == nil {
		draft.FieldLabels = make(map[string]string)
	}
	labels := make(map[string]string, len(missing))
	for _, name := range missing {
		if field, ok := spec.Field(name); ok {
			labels[name] = field.Label()
			draft.FieldLabels[name] = field.Label()
		}
	}
	if err := p.drafts.Save(draft); err != nil {
		return models.InvokeResult{}, err
	}

	next := missing[0]
	field, _ := spec.Field(next)

	// A field whose options live behind a provider action cannot be asked
	// without a binding.
	if binding == nil && (field.OptionQueryAction != "" || field.DefaultValueAction != "") {
		return bindingMissingResult(spec.ToolName, draft.ConversationID, draft.TenantID), nil
	}

	hint := hints[next]
	nextField := &models.NextField{
		Name:       next,
		Label:      field.Label(),
		AskMode:    askModeFor(field.InputMode),
		InputMode:  field.InputMode,
		Options:    field.Options,
		NextCursor: hint.NextCursor,
		HasMore:    hint.HasMore,
	}
	if len(hint.Options) > 0 {
		nextField.Options = hint.Options
	}

	return models.InvokeResult{
		Status:             models.InvokeStatusSlotMissing,
		ToolName:           spec.ToolName,
		ConversationID:     draft.ConversationID,
		MissingFields:      missing,
		MissingFieldLabels: labels,
		QuestionPlan: &models.QuestionPlan{
			Step:      models.PlanStepCollect,
			NextField: nextField,
		},
		CollectedSlots: canonicalSlots(spec, draft.Slots),
	}, nil
}

// awaitConfirmation persists the WAIT_CONFIRM draft and plans the preview.
func (p *Planner) awaitConfirmation(spec models.CapabilitySpec, draft *models.Draft) (models.InvokeResult, error) {
	draft.Status = models.DraftStatusWaitConfirm
	draft.MissingFields = nil
	if err := p.drafts.Save(draft); err != nil {
		return models.InvokeResult{}, err
	}

	preview := canonicalSlots(spec, draft.Slots)
	return models.InvokeResult{
		Status:         models.InvokeStatusWaitConfirm,
		ToolName:       spec.ToolName,
		ConversationID: draft.ConversationID,
		Preview:        preview,
		QuestionPlan: &models.QuestionPlan{
			Step:                models.PlanStepConfirm,
			Preview:             preview,
			ConfirmationArgName: confirm.ConfirmationArgName,
		},
		CollectedSlots: preview,
	}, nil
}

// submit hands the canonical slots to the submission gateway: exactly one
// attempt; success discards the draft, failure retains it with slots intact.
func (p *Planner) submit(ctx context.Context, spec models.CapabilitySpec, binding *models.ProviderBinding, draft *models.Draft, arguments map[string]interface{}) (models.InvokeResult, error) {
	if binding == nil {
		// All slots are filled at this point; record that so an inspected
		// draft reflects where the turn actually stopped. Persisting lets
		// binding the tenant later resume here.
		draft.Status = models.DraftStatusWaitConfirm
		draft.MissingFields = nil
		if err := p.drafts.Save(draft); err != nil {
			return models.InvokeResult{}, err
		}
		return bindingMissingResult(spec.ToolName, draft.ConversationID, draft.TenantID), nil
	}

	slots := canonicalSlots(spec, draft.Slots)
	outcome := p.submitter.Submit(ctx, *binding, spec, slots, arguments, draft.UserID)

	if outcome.Success {
		if err := p.drafts.Delete(spec.ToolName, draft.ConversationID); err != nil {
			slog.Error("Planner.submit: failed to discard submitted draft", "error", err, "toolName", spec.ToolName, "conversationID", draft.ConversationID)
		}
		return models.InvokeResult{
			Status:         models.InvokeStatusSubmitted,
			ToolName:       spec.ToolName,
			ConversationID: draft.ConversationID,
			Success:        true,
			HTTPStatus:     outcome.HTTPStatus,
			Message:        outcome.Message,
			QuestionPlan:   &models.QuestionPlan{Step: models.PlanStepSubmit},
			CollectedSlots: slots,
		}, nil
	}

	draft.Status = models.DraftStatusSubmitFailed
	if err := p.drafts.Save(draft); err != nil {
		return models.InvokeResult{}, err
	}
	return models.InvokeResult{
		Status:         models.InvokeStatusSubmitFailed,
		ToolName:       spec.ToolName,
		ConversationID: draft.ConversationID,
		HTTPStatus:     outcome.HTTPStatus,
		Message:        outcome.Message,
		Preview:        slots,
		QuestionPlan:   &models.QuestionPlan{Step: models.PlanStepSubmit},
		CollectedSlots: slots,
	}, nil
}

func bindingMissingResult(toolName, conversationID, tenantID string) models.InvokeResult {
	return models.InvokeResult{
		Status:         models.InvokeStatusBindingMissing,
		ToolName:       toolName,
		ConversationID: conversationID,
		Message:        fmt.Sprintf("no provider binding registered for tenant %q", tenantID),
	}
}

// applyDefaults writes provider defaults into the draft's slots without
// overwriting values the user already supplied.
func applyDefaults(draft *models.Draft, defaulted map[string]string) {
	for name, value := range defaulted {
		if draft.Slots[name] == "" {
			draft.Slots[name] = value
		}
	}
}

// canonicalSlots filters the slot map down to declared fields, dropping
// bookkeeping keys such as pagination cursors.
func canonicalSlots(spec models.CapabilitySpec, slots map[string]string) map[string]string {
	out := make(map[string]string, len(slots))
	for i := range spec.Fields {
		name := spec.Fields[i].Name
		if v := slots[name]; v != "" {
			out[name] = v
		}
	}
	return out
}

// cursorField maps a pagination argument name to the field it pages, accepting
// both "{field}_cursor" and "cursor_{field}".
func cursorField(name string) (string, bool) {
	if f := strings.TrimSuffix(name, "_cursor"); f != name && f != "" {
		return f, true
	}
	if f := strings.TrimPrefix(name, "cursor_"); f != name && f != "" {
		return f, true
	}
	return "", false
}

func askModeFor(mode models.InputMode) models.AskMode {
	switch mode {
	case models.InputModeSelectSingle:
		return models.AskModeSelectOne
	case models.InputModeSelectMulti:
		return models.AskModeSelectMany
	default:
		return models.AskModeFreeText
	}
}

// stringifyArgument renders one explicit argument value as a slot string.
func stringifyArgument(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, el := range t {
			if s := stringifyArgument(el); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
