// Package strategy turns indicator snapshots into trading actions.
//
// Each Rule looks at one indicator family and proposes an action given the
// current position state. An Evaluator combines the rules under an explicit
// Policy. Evaluation is pure: the same snapshot and position state always
// yield the same decision.
package strategy

import (
	"fmt"
	"strings"

	"signalbot/internal/model"
)

// Action represents a trading action.
type Action int

const (
	Hold Action = iota
	Buy
	Sell
)

func (a Action) String() string {
	switch a {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Side maps an action to the order side. Hold has no side.
func (a Action) Side() (model.Side, bool) {
	switch a {
	case Buy:
		return model.SideBuy, true
	case Sell:
		return model.SideSell, true
	}
	return "", false
}

// MarshalText encodes the action as its name.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes BUY, SELL or HOLD.
func (a *Action) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "BUY":
		*a = Buy
	case "SELL":
		*a = Sell
	case "HOLD", "":
		*a = Hold
	default:
		return fmt.Errorf("strategy: unknown action %q", b)
	}
	return nil
}

// Decision is the output of a rule or evaluator for one cycle.
type Decision struct {
	Action Action `json:"action"`
	Rule   string `json:"rule"`   // rule that produced the action, "" for Hold
	Reason string `json:"reason"` // human-readable trigger
}

// IsHold reports whether the decision carries no action.
func (d Decision) IsHold() bool { return d.Action == Hold }

// Policy controls how rule outputs are combined.
type Policy int

const (
	// PolicyFirstMatch evaluates rules in order and keeps the first non-Hold
	// decision.
	PolicyFirstMatch Policy = iota

	// PolicyAllowBoth lets every rule act in the same cycle. Each rule sees
	// the position left by the previous one, so two rules never repeat the
	// same order.
	PolicyAllowBoth
)

func (p Policy) String() string {
	if p == PolicyAllowBoth {
		return "allow_both"
	}
	return "first_match"
}

// ParsePolicy parses "first_match" or "allow_both".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first_match", "first-match", "priority":
		return PolicyFirstMatch, nil
	case "allow_both", "allow-both", "both":
		return PolicyAllowBoth, nil
	}
	return PolicyFirstMatch, fmt.Errorf("strategy: unknown signal policy %q", s)
}
