package config

import (
	"fmt"

	"github.com/e7canasta/photocheck/internal/decision"
)

// Labels returns the configured label set, or the built-in one.
func (c *Config) Labels() (decision.Labels, error) {
	if len(c.Model.Labels) == 0 {
		return decision.DefaultLabels(), nil
	}
	return decision.NewLabels(c.Model.Labels...)
}

// Table builds the validated rule table. Without configured rules the
// built-in delivery table is used, checked against the configured labels.
func (c *Config) Table() (*decision.Table, error) {
	labels, err := c.Labels()
	if err != nil {
		return nil, err
	}

	if len(c.Rules) == 0 {
		return decision.NewTable(labels, decision.DefaultRules())
	}

	rules := make([]decision.Rule, 0, len(c.Rules))
	for i, rc := range c.Rules {
		r, err := rc.rule()
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rc.ReasonCode, err)
		}
		rules = append(rules, r)
	}
	return decision.NewTable(labels, rules)
}

func (rc RuleConfig) rule() (decision.Rule, error) {
	clauses, err := decision.ParseClauses(rc.Conditions)
	if err != nil {
		return decision.Rule{}, err
	}
	value, err := decision.ParseDecisionValue(rc.DecisionValue)
	if err != nil {
		return decision.Rule{}, err
	}
	return decision.Rule{
		Title:       rc.Title,
		ReasonCode:  rc.ReasonCode,
		Description: rc.Description,
		Clauses:     clauses,
		Value:       value,
		Order:       rc.Order,
	}, nil
}
