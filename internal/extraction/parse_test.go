package extraction

import "testing"

func TestParseObject(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string // field -> expected scalar rendering; nil means parse failure
	}{
		{
			name: "plain object",
			raw:  `{"types": "2", "works": "本周完成联调"}`,
			want: map[string]string{"types": "2", "works": "本周完成联调"},
		},
		{
			name: "markdown fence with language tag",
			raw:  "```json\n{\"types\": \"2\"}\n```",
			want: map[string]string{"types": "2"},
		},
		{
			name: "markdown fence without language tag",
			raw:  "```\n{\"types\": \"2\"}\n```",
			want: map[string]string{"types": "2"},
		},
		{
			name: "surrounding prose",
			raw:  `Here is the extraction: {"types": "2"} hope that helps!`,
			want: map[string]string{"types": "2"},
		},
		{
			name: "numeric value keeps integer form",
			raw:  `{"types": 2}`,
			want: map[string]string{"types": "2"},
		},
		{
			name: "nested value wrapper",
			raw:  `{"types": {"value": "2"}}`,
			want: map[string]string{"types": "2"},
		},
		{
			name: "whitespace trimmed",
			raw:  `{"works": "  padded  "}`,
			want: map[string]string{"works": "padded"},
		},
		{
			name: "not json at all",
			raw:  `I could not find any fields.`,
			want: nil,
		},
		{
			name: "empty string",
			raw:  ``,
			want: nil,
		},
		{
			name: "array is not an object",
			raw:  `["types", "works"]`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, ok := ParseObject(tt.raw)
			if tt.want == nil {
				if ok {
					t.Fatalf("expected parse failure, got %+v", obj)
				}
				return
			}
			if !ok {
				t.Fatal("expected successful parse")
			}
			for key, want := range tt.want {
				if got := scalarToString(obj[key]); got != want {
					t.Errorf("field %s = %q, want %q", key, got, want)
				}
			}
		})
	}
}

func TestScalarToString(t *testing.T) {
	obj, ok := ParseObject(`{"a": true, "b": null, "c": {"other": 1}, "d": {"value": 3}}`)
	if !ok {
		t.Fatal("parse failed")
	}
	if got := scalarToString(obj["a"]); got != "true" {
		t.Errorf("bool = %q", got)
	}
	if got := scalarToString(obj["b"]); got != "" {
		t.Errorf("null = %q", got)
	}
	if got := scalarToString(obj["c"]); got != "" {
		t.Errorf("object without value key = %q", got)
	}
	if got := scalarToString(obj["d"]); got != "3" {
		t.Errorf("value wrapper = %q", got)
	}
}

func TestSplitMultiValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"comma", `{"v": "a,b,c"}`, []string{"a", "b", "c"}},
		{"chinese comma", `{"v": "a，b"}`, []string{"a", "b"}},
		{"semicolon", `{"v": "a;b；c"}`, []string{"a", "b", "c"}},
		{"newline", `{"v": "a\nb"}`, []string{"a", "b"}},
		{"mixed delimiters with spaces", `{"v": "a, b；c\nd"}`, []string{"a", "b", "c", "d"}},
		{"duplicates removed in order", `{"v": "b,a,b,a"}`, []string{"b", "a"}},
		{"array form", `{"v": ["a", "b", "a"]}`, []string{"a", "b"}},
		{"blank parts dropped", `{"v": "a,,  ,b"}`, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, ok := ParseObject(tt.raw)
			if !ok {
				t.Fatal("parse failed")
			}
			got := splitMultiValue(obj["v"])
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}
