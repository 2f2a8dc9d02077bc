// Package confirm provides the fixed whitelists of affirmative and cancel
// phrases used to interpret conversational answers to confirmation prompts,
// plus the normalization applied before matching.
package confirm

import "strings"

// ConfirmationArgName is the structured argument carrying an explicit
// confirmation signal on a capability invocation.
const ConfirmationArgName = "confirmed"

// affirmativePhrases is the hard-coded set of phrases treated as an implicit
// confirmation signal. Matching is exact after normalization.
var affirmativePhrases = map[string]bool{
	"confirm":   true,
	"confirmed": true,
	"yes":       true,
	"y":         true,
	"ok":        true,
	"okay":      true,
	"sure":      true,
	"goahead":   true,
	"submit":    true,
	"确认":        true,
	"确定":        true,
	"提交":        true,
	"好的":        true,
	"是":         true,
	"是的":        true,
	"可以":        true,
	"嗯":         true,
}

// cancelPhrases is the hard-coded set of phrases treated as a cancel signal
// for an active draft.
var cancelPhrases = map[string]bool{
	"cancel": true,
	"abort":  true,
	"no":     true,
	"取消":     true,
	"不要":     true,
	"算了":     true,
}

// Normalize lowercases a phrase and strips all whitespace so that matching is
// insensitive to casing and spacing ("Go  Ahead" matches "goahead").
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '\t', '\n', '\r', '　':
			continue
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), ".!。！")
}

// IsAffirmative reports whether the text is a recognized confirmation phrase.
func IsAffirmative(text string) bool {
	return affirmativePhrases[Normalize(text)]
}

// IsCancel reports whether the text is a recognized cancel phrase.
func IsCancel(text string) bool {
	return cancelPhrases[Normalize(text)]
}

// ArgumentMeansConfirmed interprets the explicit confirmation argument value.
// Accepted: boolean true and the strings "true", "yes", "1" (case-insensitive).
func ArgumentMeansConfirmed(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true
		}
	}
	return false
}
