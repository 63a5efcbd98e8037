package decision

import (
	"fmt"
	"strconv"
	"strings"
)

// Test is a single (label, value) equality check inside a clause.
type Test struct {
	Label Label
	Value bool
}

// String renders the test as label==value.
func (t Test) String() string {
	return string(t.Label) + "==" + strconv.FormatBool(t.Value)
}

// Clause is an AND-conjunction of tests, or the catch-all clause.
type Clause struct {
	Tests    []Test
	CatchAll bool
}

// CatchAllToken is the textual form of the catch-all clause.
const CatchAllToken = "decision_default"

// Always returns the catch-all clause.
func Always() Clause {
	return Clause{CatchAll: true}
}

// When returns a clause requiring every test to hold.
func When(tests ...Test) Clause {
	owned := make([]Test, len(tests))
	copy(owned, tests)
	return Clause{Tests: owned}
}

// Is is shorthand for Test{Label: l, Value: v}.
func Is(l Label, v bool) Test {
	return Test{Label: l, Value: v}
}

// Matches reports whether the clause is satisfied by ps.
func (c Clause) Matches(ps PredicateSet) bool {
	if c.CatchAll {
		return true
	}
	for _, t := range c.Tests {
		if !ps.Holds(t) {
			return false
		}
	}
	return true
}

// String renders the clause in condition syntax.
func (c Clause) String() string {
	if c.CatchAll {
		return CatchAllToken
	}
	parts := make([]string, len(c.Tests))
	for i, t := range c.Tests {
		parts[i] = t.String()
	}
	return strings.Join(parts, "&&")
}

func (c Clause) clone() Clause {
	return Clause{Tests: append([]Test(nil), c.Tests...), CatchAll: c.CatchAll}
}

// DecisionValue is the caller-visible outcome category of a rule.
type DecisionValue string

const (
	// InsufficientInformation means the photo does not yet support a delivery decision.
	InsufficientInformation DecisionValue = "insufficientInformation"

	// SufficientInformation means the photo supports a delivery decision.
	SufficientInformation DecisionValue = "sufficientInformation"
)

// ParseDecisionValue validates s against the closed set of decision values.
func ParseDecisionValue(s string) (DecisionValue, error) {
	switch v := DecisionValue(s); v {
	case InsufficientInformation, SufficientInformation:
		return v, nil
	default:
		return "", fmt.Errorf("decision: unknown decision value %q", s)
	}
}

// Rule maps clause satisfaction to a caller-facing outcome.
// Rules are ranked by Order, lowest first.
type Rule struct {
	Title       string
	ReasonCode  string
	Description string
	Clauses     []Clause
	Value       DecisionValue
	Order       int
}

// IsCatchAll reports whether any clause of r is the catch-all clause.
func (r Rule) IsCatchAll() bool {
	for _, c := range r.Clauses {
		if c.CatchAll {
			return true
		}
	}
	return false
}

func (r Rule) clone() Rule {
	out := r
	out.Clauses = make([]Clause, len(r.Clauses))
	for i, c := range r.Clauses {
		out.Clauses[i] = c.clone()
	}
	return out
}
