package decision

// Decision is the first matching rule of a table, reduced to the clause that
// matched.
type Decision struct {
	Title       string
	ReasonCode  string
	Description string
	Value       DecisionValue
	Order       int

	// Clause is the single clause that satisfied the rule.
	Clause Clause
}

// Rule returns the decision as a rule whose clause list holds only the matched clause.
func (d Decision) Rule() Rule {
	return Rule{
		Title:       d.Title,
		ReasonCode:  d.ReasonCode,
		Description: d.Description,
		Clauses:     []Clause{d.Clause.clone()},
		Value:       d.Value,
		Order:       d.Order,
	}
}

// MatchedCondition returns the matched clause in condition syntax.
func (d Decision) MatchedCondition() string {
	return d.Clause.String()
}

// Decide maps vec to exactly one decision using table.
//
// Rules are evaluated in ascending Order; within a rule, clauses are tried in
// list order and the first satisfied one is reported. If nothing matches, which
// a validated table prevents through its catch-all, the last rule is returned
// with its first clause.
//
// Decide only fails when vec does not match labels.
func Decide(vec ConfidenceVector, labels Labels, table *Table) (Decision, error) {
	ps, err := Predicates(vec, labels)
	if err != nil {
		return Decision{}, err
	}

	for _, r := range table.rules {
		for _, c := range r.Clauses {
			if c.Matches(ps) {
				return newDecision(r, c), nil
			}
		}
	}

	last := table.rules[len(table.rules)-1]
	return newDecision(last, last.Clauses[0]), nil
}

func newDecision(r Rule, c Clause) Decision {
	return Decision{
		Title:       r.Title,
		ReasonCode:  r.ReasonCode,
		Description: r.Description,
		Value:       r.Value,
		Order:       r.Order,
		Clause:      c.clone(),
	}
}
