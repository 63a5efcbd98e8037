package decision

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseClause parses the textual condition syntax:
//
//	label==true&&other==false
//	decision_default
//
// Whitespace around tokens is ignored. Label membership is checked by NewTable,
// not here.
func ParseClause(s string) (Clause, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Clause{}, fmt.Errorf("decision: empty condition")
	}
	if s == CatchAllToken {
		return Always(), nil
	}

	parts := strings.Split(s, "&&")
	tests := make([]Test, 0, len(parts))
	for _, part := range parts {
		t, err := parseTest(part)
		if err != nil {
			return Clause{}, fmt.Errorf("decision: condition %q: %w", s, err)
		}
		tests = append(tests, t)
	}
	return When(tests...), nil
}

// ParseClauses parses each condition in order.
func ParseClauses(conditions []string) ([]Clause, error) {
	clauses := make([]Clause, 0, len(conditions))
	for _, cond := range conditions {
		c, err := ParseClause(cond)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

func parseTest(s string) (Test, error) {
	name, value, ok := strings.Cut(s, "==")
	if !ok {
		return Test{}, fmt.Errorf("test %q: missing ==", strings.TrimSpace(s))
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Test{}, fmt.Errorf("test %q: missing label", strings.TrimSpace(s))
	}
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return Test{}, fmt.Errorf("test %q: value must be true or false", strings.TrimSpace(s))
	}
	return Is(Label(name), v), nil
}
