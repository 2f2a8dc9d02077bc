// Package models defines the capability catalog structures for FormPipe.
package models

// InputMode defines how a field's value is collected.
type InputMode string

const (
	// InputModeSingleValue collects one free-text value.
	InputModeSingleValue InputMode = "SINGLE_VALUE"
	// InputModeSelectSingle collects one value from an enumerated option list.
	InputModeSelectSingle InputMode = "SELECT_SINGLE"
	// InputModeSelectMulti collects multiple values from an enumerated option list.
	InputModeSelectMulti InputMode = "SELECT_MULTI"
)

// IsValidInputMode checks if the given input mode is supported.
func IsValidInputMode(m InputMode) bool {
	switch m {
	case InputModeSingleValue, InputModeSelectSingle, InputModeSelectMulti:
		return true
	default:
		return false
	}
}

// InferMode controls whether a field may be filled by text extraction.
type InferMode string

const (
	// InferModeAuto allows the extraction pipeline to propose values for the field.
	InferModeAuto InferMode = "AUTO"
	// InferModeDisabled excludes the field from extraction entirely.
	InferModeDisabled InferMode = "DISABLED"
)

// IsValidInferMode checks if the given infer mode is supported.
func IsValidInferMode(m InferMode) bool {
	switch m {
	case InferModeAuto, InferModeDisabled, "":
		// Empty defaults to AUTO.
		return true
	default:
		return false
	}
}

// OptionItem represents one selectable option for an enumerated field.
// Only Value is ever stored in a slot; Label is display-only.
type OptionItem struct {
	Label string            `json:"label"`
	Value string            `json:"value"`
	Extra map[string]string `json:"extra,omitempty"`
}

// FieldSpec describes a single collectable parameter of a capability.
type FieldSpec struct {
	Name               string       `json:"name"`
	Description        string       `json:"description,omitempty"`
	Required           bool         `json:"required"`
	InputMode          InputMode    `json:"input_mode"`
	Options            []OptionItem `json:"options,omitempty"`              // static options, declaration order preserved
	OptionQueryAction  string       `json:"option_query_action,omitempty"`  // provider action resolving selectable options
	DefaultValueAction string       `json:"default_value_action,omitempty"` // provider action resolving an auto-fill default
	DependsOn          []string     `json:"depends_on,omitempty"`           // fields that must resolve before option queries
	InferMode          InferMode    `json:"infer_mode,omitempty"`           // empty means AUTO
}

// Inferable reports whether the extraction pipeline may propose values for the field.
func (f *FieldSpec) Inferable() bool {
	return f.InferMode != InferModeDisabled
}

// Enumerated reports whether the field is a selection over a closed option set.
func (f *FieldSpec) Enumerated() bool {
	return f.InputMode == InputModeSelectSingle || f.InputMode == InputModeSelectMulti
}

// Label returns the display label for the field, falling back to its name.
func (f *FieldSpec) Label() string {
	if f.Description != "" {
		return f.Description
	}
	return f.Name
}

// CapabilitySpec describes one externally bound action and its parameters.
type CapabilitySpec struct {
	ToolName             string      `json:"tool_name"`
	Description          string      `json:"description,omitempty"`
	Fields               []FieldSpec `json:"fields,omitempty"` // declaration order drives questioning order
	SlotFillingEnabled   bool        `json:"slot_filling_enabled"`
	ConfirmationRequired bool        `json:"confirmation_required"`
	SubmitAction         string      `json:"submit_action"`
}

// Validate performs comprehensive validation on a CapabilitySpec structure.
func (c *CapabilitySpec) Validate() error {
	if c.ToolName == "" {
		return ErrEmptyToolName
	}
	if c.SubmitAction == "" {
		return ErrEmptySubmitAction
	}
	if c.SlotFillingEnabled && len(c.Fields) == 0 {
		return ErrNoFields
	}

	seen := make(map[string]bool, len(c.Fields))
	for i := range c.Fields {
		f := &c.Fields[i]
		if f.Name == "" {
			return ErrEmptyFieldName
		}
		if seen[f.Name] {
			return ErrDuplicateFieldName
		}
		seen[f.Name] = true
		if f.InputMode == "" {
			f.InputMode = InputModeSingleValue
		}
		if !IsValidInputMode(f.InputMode) {
			return ErrInvalidInputMode
		}
		if !IsValidInferMode(f.InferMode) {
			return ErrInvalidInferMode
		}
		for _, opt := range f.Options {
			if opt.Value == "" {
				return ErrOptionMissingValue
			}
		}
	}
	for i := range c.Fields {
		f := &c.Fields[i]
		for _, dep := range f.DependsOn {
			if dep == f.Name {
				return ErrSelfDependency
			}
			if !seen[dep] {
				return ErrUnknownDependency
			}
		}
	}
	return nil
}

// Field returns the field spec with the given name, if declared.
func (c *CapabilitySpec) Field(name string) (*FieldSpec, bool) {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i], true
		}
	}
	return nil, false
}

// MissingFields returns the required fields absent from slots, in declaration order.
func (c *CapabilitySpec) MissingFields(slots map[string]string) []string {
	var missing []string
	for i := range c.Fields {
		f := &c.Fields[i]
		if !f.Required {
			continue
		}
		if slots[f.Name] == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// FieldHint wraps a provider's per-field resolution for one turn.
type FieldHint struct {
	InputMode      InputMode    `json:"input_mode,omitempty"`
	Options        []OptionItem `json:"options,omitempty"`
	NextCursor     string       `json:"next_cursor,omitempty"`
	HasMore        bool         `json:"has_more,omitempty"`
	DependsOn      []string     `json:"depends_on,omitempty"`
	DefaultValue   string       `json:"default_value,omitempty"`
	DefaultApplied bool         `json:"default_applied,omitempty"`
}

// ProviderBinding links a tenant to the provider endpoint serving its
// option, default, and submit actions.
type ProviderBinding struct {
	TenantID  string `json:"tenant_id"`
	BaseURL   string `json:"base_url"`
	Token     string `json:"token,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// Validate validates a ProviderBinding.
func (b *ProviderBinding) Validate() error {
	if b.TenantID == "" {
		return ErrEmptyTenantID
	}
	if b.BaseURL == "" {
		return ErrEmptyBindingBaseURL
	}
	return nil
}

// Redacted returns a copy of the binding safe for API responses.
func (b ProviderBinding) Redacted() ProviderBinding {
	if b.Token != "" {
		b.Token = "[redacted]"
	}
	return b
}
