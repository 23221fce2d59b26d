package strategy

import (
	"fmt"
	"strings"

	"signalbot/internal/indicator"
)

// Rule proposes an action from one indicator family.
type Rule interface {
	// Name returns the unique name of the rule.
	Name() string

	// Evaluate returns a Buy/Sell decision, or a Hold decision when the
	// rule's thresholds are not met for the given position state.
	Evaluate(snap indicator.Snapshot, isLongOpen bool) Decision
}

// RSIRule buys an oversold instrument when flat and sells an overbought one
// when long.
type RSIRule struct {
	Oversold   float64
	Overbought float64
}

// NewRSIRule creates an RSI rule with the given thresholds (typically 30/70).
func NewRSIRule(oversold, overbought float64) *RSIRule {
	return &RSIRule{Oversold: oversold, Overbought: overbought}
}

func (r *RSIRule) Name() string { return "rsi" }

func (r *RSIRule) Evaluate(snap indicator.Snapshot, isLongOpen bool) Decision {
	if snap.RSI < r.Oversold && !isLongOpen {
		return Decision{
			Action: Buy,
			Rule:   r.Name(),
			Reason: fmt.Sprintf("RSI %.2f < %.0f", snap.RSI, r.Oversold),
		}
	}
	if snap.RSI > r.Overbought && isLongOpen {
		return Decision{
			Action: Sell,
			Rule:   r.Name(),
			Reason: fmt.Sprintf("RSI %.2f > %.0f", snap.RSI, r.Overbought),
		}
	}
	return Decision{}
}

// MACDRule buys when the MACD line is above its signal line while flat and
// sells when it is below while long.
type MACDRule struct{}

// NewMACDRule creates a MACD rule.
func NewMACDRule() *MACDRule { return &MACDRule{} }

func (r *MACDRule) Name() string { return "macd" }

func (r *MACDRule) Evaluate(snap indicator.Snapshot, isLongOpen bool) Decision {
	if snap.MACD > snap.MACDSignal && !isLongOpen {
		return Decision{
			Action: Buy,
			Rule:   r.Name(),
			Reason: fmt.Sprintf("MACD %.4f > signal %.4f", snap.MACD, snap.MACDSignal),
		}
	}
	if snap.MACD < snap.MACDSignal && isLongOpen {
		return Decision{
			Action: Sell,
			Rule:   r.Name(),
			Reason: fmt.Sprintf("MACD %.4f < signal %.4f", snap.MACD, snap.MACDSignal),
		}
	}
	return Decision{}
}

// Thresholds configures the rule set built by BuildRules.
type Thresholds struct {
	RSIOversold   float64
	RSIOverbought float64
}

// DefaultThresholds returns RSI 30/70.
func DefaultThresholds() Thresholds {
	return Thresholds{RSIOversold: 30, RSIOverbought: 70}
}

// BuildRules creates rules by name in the given order ("rsi", "macd").
func BuildRules(names []string, th Thresholds) ([]Rule, error) {
	if len(names) == 0 {
		names = []string{"rsi", "macd"}
	}
	if th.RSIOversold >= th.RSIOverbought {
		return nil, fmt.Errorf("strategy: rsi oversold (%.1f) must be below overbought (%.1f)", th.RSIOversold, th.RSIOverbought)
	}

	seen := make(map[string]bool, len(names))
	rules := make([]Rule, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if seen[n] {
			return nil, fmt.Errorf("strategy: rule %q listed twice", n)
		}
		seen[n] = true
		switch n {
		case "rsi":
			rules = append(rules, NewRSIRule(th.RSIOversold, th.RSIOverbought))
		case "macd":
			rules = append(rules, NewMACDRule())
		default:
			return nil, fmt.Errorf("strategy: unknown rule %q", n)
		}
	}
	return rules, nil
}
