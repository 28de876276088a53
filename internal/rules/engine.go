// Package rules evaluates user-defined processing rules against a
// message and its classification, producing the ordered action list to
// dispatch. Evaluation is pure and total: a condition over a field the
// message or analysis does not have is simply false, never an error.
package rules

import (
	"strconv"
	"strings"

	"github.com/nhle/mail-agent/internal/model"
)

// Engine holds the ordered rule list loaded at startup. Rules are
// immutable for the lifetime of the engine.
type Engine struct {
	rules     []model.Rule
	exclusive bool
}

// New creates an engine over the given ordered rules. When exclusive
// is true, evaluation stops at the first matching rule; otherwise
// every matching rule contributes its actions.
func New(rules []model.Rule, exclusive bool) *Engine {
	return &Engine{rules: rules, exclusive: exclusive}
}

// Evaluate returns the actions produced by the rules for one message.
// Output order is rule order, then each rule's declared action order.
// No deduplication is applied; repeated actions are dispatched again,
// which the dispatcher must tolerate.
func (e *Engine) Evaluate(msg model.Message, analysis model.Analysis) []model.Action {
	var actions []model.Action

	for _, rule := range e.rules {
		if !ruleMatches(rule, msg, analysis) {
			continue
		}
		actions = append(actions, rule.Actions...)
		if e.exclusive {
			break
		}
	}

	return actions
}

// MatchingRules returns the names of the rules that match, in rule
// order, honoring exclusive mode. Used for logging.
func (e *Engine) MatchingRules(msg model.Message, analysis model.Analysis) []string {
	var names []string
	for _, rule := range e.rules {
		if !ruleMatches(rule, msg, analysis) {
			continue
		}
		names = append(names, rule.Name)
		if e.exclusive {
			break
		}
	}
	return names
}

// ruleMatches reports whether every condition of the rule holds.
func ruleMatches(rule model.Rule, msg model.Message, analysis model.Analysis) bool {
	for _, cond := range rule.Conditions {
		if !conditionHolds(cond, msg, analysis) {
			return false
		}
	}
	return len(rule.Conditions) > 0
}

// conditionHolds evaluates one predicate. Unknown fields, unknown
// operators, and malformed comparison values all evaluate to false.
func conditionHolds(c model.Condition, msg model.Message, analysis model.Analysis) bool {
	switch c.Field {
	case "subject":
		return stringOp(c, msg.Subject)
	case "from", "sender":
		if c.Op == model.OpDomainEquals {
			return strings.EqualFold(msg.SenderDomain(), c.Value)
		}
		return stringOp(c, msg.From)
	case "body":
		return stringOp(c, msg.Body)
	case "category":
		return stringOp(c, string(analysis.Category))
	case "sentiment":
		return stringOp(c, string(analysis.Sentiment))
	case "requires_response":
		want, err := strconv.ParseBool(c.Value)
		if err != nil || c.Op != model.OpEquals {
			return false
		}
		return analysis.RequiresResponse == want
	case "priority":
		return priorityOp(c, analysis.Priority)
	case "confidence":
		threshold, err := strconv.ParseFloat(c.Value, 64)
		if err != nil || c.Op != model.OpGTE {
			return false
		}
		return analysis.Confidence >= threshold
	default:
		if value, ok := msg.Headers[c.Field]; ok {
			return stringOp(c, value)
		}
		return false
	}
}

// stringOp applies a string operator case-insensitively.
func stringOp(c model.Condition, value string) bool {
	switch c.Op {
	case model.OpContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(c.Value))
	case model.OpEquals:
		return strings.EqualFold(value, c.Value)
	case model.OpIn:
		for _, candidate := range c.Values {
			if strings.EqualFold(value, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// priorityOp applies equals or gte against a priority label.
func priorityOp(c model.Condition, p model.Priority) bool {
	threshold, ok := parsePriorityLabel(c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case model.OpEquals:
		return p == threshold
	case model.OpGTE:
		return p >= threshold
	default:
		return false
	}
}

// parsePriorityLabel parses a priority label without a fallback, so a
// typo in a rule yields no match rather than a surprising one.
func parsePriorityLabel(s string) (model.Priority, bool) {
	switch s {
	case "low":
		return model.PriorityLow, true
	case "medium":
		return model.PriorityMedium, true
	case "high":
		return model.PriorityHigh, true
	case "critical":
		return model.PriorityCritical, true
	default:
		return 0, false
	}
}
