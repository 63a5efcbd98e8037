package decision_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/photocheck/internal/decision"
)

func catchAll(order int) decision.Rule {
	return decision.Rule{
		Title:      "Default",
		ReasonCode: "default",
		Clauses:    []decision.Clause{decision.Always()},
		Value:      decision.InsufficientInformation,
		Order:      order,
	}
}

func darkRule(order int) decision.Rule {
	return decision.Rule{
		Title:      "Dark",
		ReasonCode: "dark",
		Clauses:    []decision.Clause{decision.When(decision.Is(decision.TooDark, true))},
		Value:      decision.InsufficientInformation,
		Order:      order,
	}
}

func TestNewTableRejectsInvalidTables(t *testing.T) {
	labels := decision.DefaultLabels()

	dupReason := darkRule(2)
	dupReason.ReasonCode = "default"

	unknownLabel := darkRule(1)
	unknownLabel.Clauses = []decision.Clause{decision.When(decision.Is("glare", true))}

	emptyClause := darkRule(1)
	emptyClause.Clauses = []decision.Clause{decision.When()}

	noClauses := darkRule(1)
	noClauses.Clauses = nil

	badValue := darkRule(1)
	badValue.Value = "maybe"

	tests := []struct {
		name    string
		rules   []decision.Rule
		wantErr error
	}{
		{"empty table", nil, decision.ErrEmptyTable},
		{"order tie", []decision.Rule{darkRule(1), catchAll(1)}, decision.ErrDuplicateOrder},
		{"duplicate reason", []decision.Rule{catchAll(3), dupReason}, decision.ErrDuplicateReason},
		{"no catch-all", []decision.Rule{darkRule(1)}, decision.ErrCatchAll},
		{"catch-all not last", []decision.Rule{darkRule(5), catchAll(1)}, decision.ErrCatchAll},
		{"unknown label", []decision.Rule{unknownLabel, catchAll(2)}, decision.ErrUnknownLabel},
		{"empty clause", []decision.Rule{emptyClause, catchAll(2)}, decision.ErrEmptyClause},
		{"rule without clauses", []decision.Rule{noClauses, catchAll(2)}, decision.ErrEmptyClause},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decision.NewTable(labels, tt.rules)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("unknown decision value", func(t *testing.T) {
		_, err := decision.NewTable(labels, []decision.Rule{badValue, catchAll(2)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown decision value")
	})

	t.Run("two catch-alls", func(t *testing.T) {
		second := catchAll(4)
		second.ReasonCode = "default_2"
		_, err := decision.NewTable(labels, []decision.Rule{catchAll(3), second})
		require.ErrorIs(t, err, decision.ErrCatchAll)
	})
}

func TestNewTableSortsAndCopies(t *testing.T) {
	rules := []decision.Rule{catchAll(10), darkRule(1)}

	table, err := decision.NewTable(decision.DefaultLabels(), rules)
	require.NoError(t, err)

	rules[1].ReasonCode = "mutated"
	rules[1].Clauses[0].Tests[0].Value = false

	got := table.Rules()
	require.Len(t, got, 2)
	assert.Equal(t, "dark", got[0].ReasonCode)
	assert.True(t, got[0].Clauses[0].Tests[0].Value)
	assert.Equal(t, "default", got[1].ReasonCode)
}

func TestDefaultTableIsValid(t *testing.T) {
	table := decision.DefaultTable()

	assert.Equal(t, 10, table.Len())
	rules := table.Rules()
	for i := 1; i < len(rules); i++ {
		assert.Less(t, rules[i-1].Order, rules[i].Order)
	}
	assert.True(t, rules[len(rules)-1].IsCatchAll())
	assert.Equal(t, "no_clear_decision", rules[len(rules)-1].ReasonCode)
}

func TestNewLabels(t *testing.T) {
	labels, err := decision.NewLabels("a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, labels.Index("b"))
	assert.False(t, labels.Contains("c"))

	_, err = decision.NewLabels()
	assert.ErrorIs(t, err, decision.ErrEmptyLabels)

	_, err = decision.NewLabels("a", "a")
	assert.ErrorIs(t, err, decision.ErrDuplicateLabel)

	_, err = decision.NewLabels("a", "")
	assert.Error(t, err)
}
