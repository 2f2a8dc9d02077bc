// Package extraction converts free-text utterances into field value proposals
// for the question planner.
//
// The pipeline combines one bounded, catalog-restricted call to the
// text-completion collaborator with deterministic parsing and alias
// normalization. It never raises to the caller: any internal failure yields
// zero extractions and the planner simply asks again.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// Completer produces one text completion for a prompt pair. The collaborator
// is unreliable by contract; every failure is treated as a normal input.
type Completer interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const systemPrompt = `You extract form field values from a user message.
Respond with a single JSON object mapping field names to extracted values.
Only include fields the user actually provided. For selection fields, answer
with the option value or its label. Do not invent values. Respond with {} if
nothing was provided.`

// Extractor runs the extraction pipeline for one capability.
type Extractor struct {
	completer Completer
}

// NewExtractor creates an extractor over the given completion collaborator.
func NewExtractor(c Completer) *Extractor {
	return &Extractor{completer: c}
}

// CandidateFields returns the missing fields eligible for extraction: those
// whose infer mode is AUTO. Declaration order is preserved.
func CandidateFields(spec models.CapabilitySpec, missing []string) []string {
	var candidates []string
	for _, name := range missing {
		field, ok := spec.Field(name)
		if !ok {
			continue
		}
		if field.Inferable() {
			candidates = append(candidates, name)
		}
	}
	return candidates
}

// Extract proposes values for the candidate fields from one utterance.
// The returned map contains only candidate field names mapped to canonical
// values. On any failure it returns an empty map.
func (e *Extractor) Extract(ctx context.Context, text string, spec models.CapabilitySpec, candidates []string, known map[string]string, hints map[string]models.FieldHint) map[string]string {
	extracted := make(map[string]string)
	if e.completer == nil || strings.TrimSpace(text) == "" || len(candidates) == 0 {
		return extracted
	}

	userPrompt := buildUserPrompt(text, spec, candidates, known, hints)
	raw, err := e.completer.GeneratePrompt(ctx, systemPrompt, userPrompt)
	if err != nil {
		// Collaborator unavailable is a normal input; degrade to asking again.
		slog.Warn("Extractor.Extract: completion failed, returning no extractions", "error", err, "toolName", spec.ToolName)
		return extracted
	}

	obj, ok := ParseObject(raw)
	if !ok {
		slog.Warn("Extractor.Extract: completion output was not a JSON object", "toolName", spec.ToolName)
		return extracted
	}

	candidateSet := make(map[string]bool, len(candidates))
	for _, name := range candidates {
		candidateSet[name] = true
	}

	for key, rawValue := range obj {
		if !candidateSet[key] {
			// Non-candidate keys are dropped, including DISABLED fields the
			// extractor returned anyway.
			continue
		}
		field, ok := spec.Field(key)
		if !ok {
			continue
		}
		idx := BuildAliasIndex(field, hints[key])

		var value string
		if field.InputMode == models.InputModeSelectMulti {
			value = resolveMulti(rawValue, idx)
		} else {
			value = resolveScalar(scalarToString(rawValue), idx)
		}
		if value == "" {
			continue
		}
		extracted[key] = value
	}

	slog.Debug("Extractor.Extract: extraction complete", "toolName", spec.ToolName, "candidates", len(candidates), "extracted", len(extracted))
	return extracted
}

// resolveScalar maps one raw scalar through the alias index. Unmatched free
// text passes through as a literal unless the field is fully enumerated.
func resolveScalar(raw string, idx *AliasIndex) string {
	if raw == "" {
		return ""
	}
	if value, ok := idx.Resolve(raw); ok {
		return value
	}
	if idx.Enumerated() {
		// Unmatched literal on an enumerated field stays unresolved.
		return ""
	}
	return raw
}

// resolveMulti maps a multi-select answer to a comma-joined list of canonical
// values, de-duplicated in first-seen order.
func resolveMulti(rawValue interface{}, idx *AliasIndex) string {
	parts := splitMultiValue(rawValue)
	seen := make(map[string]bool, len(parts))
	var values []string
	for _, part := range parts {
		value := resolveScalar(part, idx)
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		values = append(values, value)
	}
	return strings.Join(values, ",")
}

// buildUserPrompt enumerates only the candidate fields, rendering enumerable
// fields as "label(value)" lists, and includes already-known slots so the
// extractor does not re-derive them.
func buildUserPrompt(text string, spec models.CapabilitySpec, candidates []string, known map[string]string, hints map[string]models.FieldHint) string {
	var b strings.Builder
	b.WriteString("Fields to extract:\n")
	for _, name := range candidates {
		field, ok := spec.Field(name)
		if !ok {
			continue
		}
		b.WriteString("- ")
		b.WriteString(field.Name)
		if field.Description != "" {
			b.WriteString(": ")
			b.WriteString(field.Description)
		}
		options := optionsForField(field, hints[name])
		if len(options) > 0 {
			b.WriteString(" [options: ")
			for i, opt := range options {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%s(%s)", opt.Label, opt.Value)
			}
			b.WriteString("]")
		}
		if field.InputMode == models.InputModeSelectMulti {
			b.WriteString(" (multiple values allowed)")
		}
		b.WriteString("\n")
	}

	if len(known) > 0 {
		b.WriteString("\nAlready known (do not re-extract):\n")
		for i := range spec.Fields {
			name := spec.Fields[i].Name
			if value, ok := known[name]; ok && value != "" {
				fmt.Fprintf(&b, "- %s = %s\n", name, value)
			}
		}
	}

	b.WriteString("\nUser message:\n")
	b.WriteString(text)
	return b.String()
}

// optionsForField merges provider-supplied options for this turn with the
// static catalog options, provider options first.
func optionsForField(field *models.FieldSpec, hint models.FieldHint) []models.OptionItem {
	if len(hint.Options) == 0 {
		return field.Options
	}
	seen := make(map[string]bool, len(hint.Options))
	options := make([]models.OptionItem, 0, len(hint.Options)+len(field.Options))
	for _, opt := range hint.Options {
		seen[opt.Value] = true
		options = append(options, opt)
	}
	for _, opt := range field.Options {
		if !seen[opt.Value] {
			options = append(options, opt)
		}
	}
	return options
}
