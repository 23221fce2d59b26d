package strategy

import "signalbot/internal/indicator"

// Evaluator combines independent rules under a Policy.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	rules  []Rule
	policy Policy
}

// NewEvaluator creates an evaluator. Rules are consulted in the given order.
func NewEvaluator(policy Policy, rules ...Rule) *Evaluator {
	return &Evaluator{rules: rules, policy: policy}
}

// Policy returns the combination policy.
func (e *Evaluator) Policy() Policy { return e.policy }

// EvaluateAll returns every non-Hold rule decision, in rule order.
func (e *Evaluator) EvaluateAll(snap indicator.Snapshot, isLongOpen bool) []Decision {
	var out []Decision
	for _, r := range e.rules {
		if d := r.Evaluate(snap, isLongOpen); !d.IsHold() {
			out = append(out, d)
		}
	}
	return out
}

// Evaluate returns the single combined decision: the first non-Hold rule
// output, or Hold. Under PolicyAllowBoth callers use Walk instead.
func (e *Evaluator) Evaluate(snap indicator.Snapshot, isLongOpen bool) Decision {
	for _, r := range e.rules {
		if d := r.Evaluate(snap, isLongOpen); !d.IsHold() {
			return d
		}
	}
	return Decision{}
}

// Walk consults the rules in order and hands every non-Hold decision to act.
// isLong is read before each rule, so a position changed by an earlier
// decision is what the next rule sees. Under PolicyFirstMatch the walk stops
// after the first non-Hold decision.
func (e *Evaluator) Walk(snap indicator.Snapshot, isLong func() bool, act func(Decision)) {
	for _, r := range e.rules {
		d := r.Evaluate(snap, isLong())
		if d.IsHold() {
			continue
		}
		act(d)
		if e.policy != PolicyAllowBoth {
			return
		}
	}
}
