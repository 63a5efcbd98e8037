package decision

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrEmptyTable is returned when a table has no rules.
	ErrEmptyTable = errors.New("decision: rule table is empty")

	// ErrDuplicateReason is returned when two rules share a reason code.
	ErrDuplicateReason = errors.New("decision: duplicate reason code")

	// ErrDuplicateOrder is returned when two rules share an order number.
	ErrDuplicateOrder = errors.New("decision: duplicate order number")

	// ErrCatchAll is returned when the table does not have exactly one catch-all
	// rule at the highest order.
	ErrCatchAll = errors.New("decision: table needs exactly one catch-all rule with the highest order")

	// ErrUnknownLabel is returned when a clause tests a label outside the label set.
	ErrUnknownLabel = errors.New("decision: clause tests unknown label")

	// ErrEmptyClause is returned for a rule without clauses or a clause without tests.
	ErrEmptyClause = errors.New("decision: empty clause")
)

// Table is a validated, immutable rule table sorted by ascending Order.
type Table struct {
	labels Labels
	rules  []Rule
}

// NewTable validates rules against labels and returns them as a sorted table.
// The input slice is copied; later changes to it do not affect the table.
func NewTable(labels Labels, rules []Rule) (*Table, error) {
	if len(labels) == 0 {
		return nil, ErrEmptyLabels
	}
	if len(rules) == 0 {
		return nil, ErrEmptyTable
	}

	reasons := make(map[string]struct{}, len(rules))
	orders := make(map[int]string, len(rules))
	sorted := make([]Rule, 0, len(rules))
	catchAlls := 0

	for _, r := range rules {
		if r.ReasonCode == "" {
			return nil, fmt.Errorf("decision: rule %q has no reason code", r.Title)
		}
		if _, dup := reasons[r.ReasonCode]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateReason, r.ReasonCode)
		}
		reasons[r.ReasonCode] = struct{}{}

		if other, dup := orders[r.Order]; dup {
			return nil, fmt.Errorf("%w: %d used by %q and %q", ErrDuplicateOrder, r.Order, other, r.ReasonCode)
		}
		orders[r.Order] = r.ReasonCode

		if _, err := ParseDecisionValue(string(r.Value)); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ReasonCode, err)
		}
		if err := checkClauses(r, labels); err != nil {
			return nil, err
		}
		if r.IsCatchAll() {
			catchAlls++
		}
		sorted = append(sorted, r.clone())
	}

	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	if catchAlls != 1 || !sorted[len(sorted)-1].IsCatchAll() {
		return nil, ErrCatchAll
	}

	return &Table{labels: append(Labels(nil), labels...), rules: sorted}, nil
}

// MustTable is like NewTable but panics on error. Use it for tables built in code.
func MustTable(labels Labels, rules []Rule) *Table {
	t, err := NewTable(labels, rules)
	if err != nil {
		panic(err)
	}
	return t
}

func checkClauses(r Rule, labels Labels) error {
	if len(r.Clauses) == 0 {
		return fmt.Errorf("%w: rule %q has no clauses", ErrEmptyClause, r.ReasonCode)
	}
	for i, c := range r.Clauses {
		if c.CatchAll {
			continue
		}
		if len(c.Tests) == 0 {
			return fmt.Errorf("%w: rule %q clause %d", ErrEmptyClause, r.ReasonCode, i)
		}
		for _, t := range c.Tests {
			if !labels.Contains(t.Label) {
				return fmt.Errorf("%w: rule %q tests %q", ErrUnknownLabel, r.ReasonCode, t.Label)
			}
		}
	}
	return nil
}

// Labels returns the label set the table was validated against.
func (t *Table) Labels() Labels {
	return append(Labels(nil), t.labels...)
}

// Rules returns a copy of the rules in evaluation order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	for i, r := range t.rules {
		out[i] = r.clone()
	}
	return out
}

// Len returns the number of rules.
func (t *Table) Len() int { return len(t.rules) }
