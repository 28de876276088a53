package model

import "fmt"

// ActionType identifies the kind of action a rule produces.
type ActionType string

const (
	ActionArchive   ActionType = "archive"
	ActionMarkRead  ActionType = "mark_read"
	ActionForward   ActionType = "forward"
	ActionNotify    ActionType = "notify"
	ActionAutoReply ActionType = "auto_reply"
)

// Action is a tagged variant describing one operation to perform on a
// message. Which of the optional fields are meaningful depends on Type.
type Action struct {
	Type ActionType `mapstructure:"type" yaml:"type"`

	// To is the forward target address (forward only).
	To string `mapstructure:"to" yaml:"to,omitempty"`

	// Channel names the notification sink (notify only).
	Channel string `mapstructure:"channel" yaml:"channel,omitempty"`

	// Text is the notification text (notify only). When empty, the
	// dispatcher substitutes a summary of the message.
	Text string `mapstructure:"text" yaml:"text,omitempty"`

	// Template names the reply template (auto_reply only).
	Template string `mapstructure:"template" yaml:"template,omitempty"`
}

// Validate checks that the action is well formed for its type.
func (a Action) Validate() error {
	switch a.Type {
	case ActionArchive, ActionMarkRead:
		return nil
	case ActionForward:
		if a.To == "" {
			return fmt.Errorf("forward action missing 'to' address")
		}
		return nil
	case ActionNotify:
		if a.Channel == "" {
			return fmt.Errorf("notify action missing 'channel'")
		}
		return nil
	case ActionAutoReply:
		if a.Template == "" {
			return fmt.Errorf("auto_reply action missing 'template'")
		}
		return nil
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

// Operator is a comparison applied by a rule condition.
type Operator string

const (
	// OpContains matches when the field contains the value,
	// case-insensitively.
	OpContains Operator = "contains"

	// OpEquals matches when the field equals the value,
	// case-insensitively for string fields.
	OpEquals Operator = "equals"

	// OpDomainEquals matches when the domain of an address field equals
	// the value.
	OpDomainEquals Operator = "domain_equals"

	// OpIn matches when the field equals any of the listed values.
	OpIn Operator = "in"

	// OpGTE matches when an ordered field is at or above the value.
	OpGTE Operator = "gte"
)

// Condition is a single closed predicate over message and analysis
// fields. A condition over an unknown field or operator evaluates to
// false; it never raises an error.
type Condition struct {
	Field string   `mapstructure:"field" yaml:"field"`
	Op    Operator `mapstructure:"op" yaml:"op"`
	Value string   `mapstructure:"value" yaml:"value,omitempty"`

	// Values is the candidate set for the "in" operator.
	Values []string `mapstructure:"values" yaml:"values,omitempty"`
}

// Rule pairs a conjunction of conditions with an ordered action list.
// Rules are loaded once at startup and immutable during a run; their
// position in the configured list determines precedence.
type Rule struct {
	Name       string      `mapstructure:"name" yaml:"name"`
	Conditions []Condition `mapstructure:"conditions" yaml:"conditions"`
	Actions    []Action    `mapstructure:"actions" yaml:"actions"`
}

// Validate checks that the rule has a name, at least one condition and
// at least one well-formed action.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule missing name")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %q has no conditions", r.Name)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule %q has no actions", r.Name)
	}
	for i, c := range r.Conditions {
		if c.Field == "" {
			return fmt.Errorf("rule %q condition %d missing field", r.Name, i)
		}
		if c.Op == "" {
			return fmt.Errorf("rule %q condition %d missing op", r.Name, i)
		}
	}
	for i, a := range r.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("rule %q action %d: %w", r.Name, i, err)
		}
	}
	return nil
}
