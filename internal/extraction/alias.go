package extraction

import (
	"strings"
	"unicode"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// AliasIndex maps user-facing aliases (labels and canonical values) of one
// field's options to their canonical values. Keys are normalized so matching
// is case- and whitespace-insensitive.
type AliasIndex struct {
	canonical  map[string]string
	enumerated bool
}

// BuildAliasIndex builds the alias table for one field from its static
// catalog options plus any options the provider supplied this turn.
// Provider-supplied options are indexed first so a later static alias never
// overrides a fresher provider alias.
func BuildAliasIndex(field *models.FieldSpec, hint models.FieldHint) *AliasIndex {
	idx := &AliasIndex{canonical: make(map[string]string)}

	add := func(opts []models.OptionItem) {
		for _, opt := range opts {
			if opt.Value == "" {
				continue
			}
			if key := normalizeAlias(opt.Label); key != "" {
				if _, exists := idx.canonical[key]; !exists {
					idx.canonical[key] = opt.Value
				}
			}
			if key := normalizeAlias(opt.Value); key != "" {
				if _, exists := idx.canonical[key]; !exists {
					idx.canonical[key] = opt.Value
				}
			}
		}
	}
	add(hint.Options)
	add(field.Options)

	idx.enumerated = field.Enumerated() && len(idx.canonical) > 0
	return idx
}

// Enumerated reports whether the field is a selection over a known option set,
// in which case unmatched literals stay unresolved.
func (idx *AliasIndex) Enumerated() bool {
	return idx.enumerated
}

// Resolve maps one raw extracted scalar to a canonical option value.
// The second return reports whether an alias matched.
func (idx *AliasIndex) Resolve(raw string) (string, bool) {
	value, ok := idx.canonical[normalizeAlias(raw)]
	return value, ok
}

// CanonicalizeValue maps an explicitly supplied value for a selection field
// through the same alias table the extractor uses: labels and canonical
// values resolve to the canonical value, and an unmatched literal on a fully
// enumerated field stays unresolved (empty result). Multi-select values are
// split, de-duplicated, and comma-joined. Free-text fields pass through
// untouched.
func CanonicalizeValue(field *models.FieldSpec, hint models.FieldHint, raw string) string {
	if field.InputMode == models.InputModeSingleValue || field.InputMode == "" {
		return raw
	}
	idx := BuildAliasIndex(field, hint)
	if field.InputMode == models.InputModeSelectMulti {
		return resolveMulti(raw, idx)
	}
	return resolveScalar(raw, idx)
}

// normalizeAlias lowercases and strips all whitespace from an alias key.
func normalizeAlias(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
