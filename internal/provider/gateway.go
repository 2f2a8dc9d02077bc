package provider

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// Gateway resolves per-field hints (defaults and selectable options) for the
// missing fields of one capability.
type Gateway struct {
	invoker  Invoker
	pageSize int
}

// NewGateway creates a gateway over the given invoker.
func NewGateway(invoker Invoker, opts ...Option) *Gateway {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Gateway{invoker: invoker, pageSize: pageSize}
}

// ResolveHints resolves defaults and options for the missing fields.
//
// Defaults run first: a non-blank default is returned in the defaulted map
// (the caller merges it into the draft's slots, bypassing the question flow).
// Option queries then run for the remaining missing fields, skipping defaulted
// ones and fields whose dependencies are still unresolved. Every provider
// failure is absorbed: the affected field simply has no hint this turn.
func (g *Gateway) ResolveHints(ctx context.Context, binding *models.ProviderBinding, spec models.CapabilitySpec, missing []string, slots map[string]string, userID string) (map[string]models.FieldHint, map[string]string) {
	hints := make(map[string]models.FieldHint)
	defaulted := make(map[string]string)
	if binding == nil {
		slog.Debug("Gateway.ResolveHints: no binding, skipping provider resolution", "toolName", spec.ToolName)
		return hints, defaulted
	}

	// Working slot view including freshly defaulted values, so dependent
	// option queries see them.
	resolved := make(map[string]string, len(slots))
	for k, v := range slots {
		resolved[k] = v
	}

	for _, name := range missing {
		field, ok := spec.Field(name)
		if !ok || field.DefaultValueAction == "" {
			continue
		}
		resp, err := g.invoker.InvokeDefaultValue(ctx, *binding, DefaultValueRequest{
			Action:    field.DefaultValueAction,
			ToolName:  spec.ToolName,
			FieldName: name,
			Slots:     resolved,
			TenantID:  binding.TenantID,
			UserID:    userID,
		})
		if err != nil {
			// Non-fatal: the question is still asked without a default.
			slog.Warn("Gateway.ResolveHints: default value call failed", "error", err, "toolName", spec.ToolName, "field", name)
			continue
		}
		if resp == nil || resp.Value == "" {
			continue
		}
		defaulted[name] = resp.Value
		resolved[name] = resp.Value
		hints[name] = models.FieldHint{
			InputMode:      field.InputMode,
			DependsOn:      field.DependsOn,
			DefaultValue:   resp.Value,
			DefaultApplied: true,
		}
		slog.Debug("Gateway.ResolveHints: default applied", "toolName", spec.ToolName, "field", name)
	}

	for _, name := range missing {
		if _, wasDefaulted := defaulted[name]; wasDefaulted {
			continue
		}
		field, ok := spec.Field(name)
		if !ok || field.OptionQueryAction == "" {
			continue
		}
		if !dependenciesResolved(field, resolved) {
			slog.Debug("Gateway.ResolveHints: dependencies unresolved, skipping option query", "toolName", spec.ToolName, "field", name, "dependsOn", field.DependsOn)
			continue
		}
		resp, err := g.invoker.InvokeOptionQuery(ctx, *binding, OptionQueryRequest{
			Action:    field.OptionQueryAction,
			ToolName:  spec.ToolName,
			FieldName: name,
			Slots:     resolved,
			TenantID:  binding.TenantID,
			UserID:    userID,
			Cursor:    cursorFor(name, resolved),
			Limit:     g.pageSize,
		})
		if err != nil {
			slog.Warn("Gateway.ResolveHints: option query failed", "error", err, "toolName", spec.ToolName, "field", name)
			continue
		}
		hints[name] = models.FieldHint{
			InputMode:  field.InputMode,
			Options:    resp.Items,
			NextCursor: resp.Cursor,
			HasMore:    resp.HasMore,
			DependsOn:  field.DependsOn,
		}
	}

	return hints, defaulted
}

// dependenciesResolved reports whether every field this field depends on has
// a resolved value.
func dependenciesResolved(field *models.FieldSpec, slots map[string]string) bool {
	for _, dep := range field.DependsOn {
		if slots[dep] == "" {
			return false
		}
	}
	return true
}

// cursorFor reads a pagination cursor for a field from the slot set, checking
// both supported key shapes.
func cursorFor(name string, slots map[string]string) string {
	if c := slots[name+"_cursor"]; c != "" {
		return c
	}
	return slots["cursor_"+name]
}
