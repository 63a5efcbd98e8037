package decision_test

import (
	"errors"
	"testing"

	"github.com/e7canasta/photocheck/internal/decision"
)

// scores builds a default-label vector with every score at 0.1 except overrides.
func scores(t *testing.T, overrides map[decision.Label]float64) decision.ConfidenceVector {
	t.Helper()

	labels := decision.DefaultLabels()
	raw := make([]float64, len(labels))
	for i, l := range labels {
		raw[i] = 0.1
		if v, ok := overrides[l]; ok {
			raw[i] = v
		}
	}
	vec, err := decision.NewConfidenceVector(labels, raw)
	if err != nil {
		t.Fatalf("NewConfidenceVector() failed: %v", err)
	}
	return vec
}

func TestDecideDeliveryScenarios(t *testing.T) {
	table := decision.DefaultTable()
	labels := decision.DefaultLabels()

	tests := []struct {
		name       string
		overrides  map[decision.Label]float64
		wantReason string
		wantOrder  int
	}{
		{
			name:       "too dark wins over everything",
			overrides:  map[decision.Label]float64{decision.TooDark: 0.9},
			wantReason: "too_dark",
			wantOrder:  1,
		},
		{
			name:       "nothing visible",
			overrides:  map[decision.Label]float64{decision.Blur: 0.8, decision.Face: 0.7},
			wantReason: "package_not_visible_and_dropoff_location_not_visible_and_address_not_visible",
			wantOrder:  2,
		},
		{
			name: "all visible",
			overrides: map[decision.Label]float64{
				decision.PackageVisible:         0.8,
				decision.DropoffLocationVisible: 0.6,
				decision.UnitNumberVisible:      0.99,
			},
			wantReason: "package_visible_and_dropoff_location_visible_and_address_visible",
			wantOrder:  9,
		},
		{
			name:       "only package",
			overrides:  map[decision.Label]float64{decision.PackageVisible: 0.7},
			wantReason: "package_visible_and_dropoff_location_not_visible_and_address_not_visible",
			wantOrder:  3,
		},
		{
			name: "package missing",
			overrides: map[decision.Label]float64{
				decision.DropoffLocationVisible: 0.7,
				decision.UnitNumberVisible:      0.7,
			},
			wantReason: "package_not_visible_and_dropoff_location_visible_and_address_visible",
			wantOrder:  6,
		},
		{
			name: "dark and all visible is still dark",
			overrides: map[decision.Label]float64{
				decision.TooDark:                0.51,
				decision.PackageVisible:         0.9,
				decision.DropoffLocationVisible: 0.9,
				decision.UnitNumberVisible:      0.9,
			},
			wantReason: "too_dark",
			wantOrder:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decision.Decide(scores(t, tt.overrides), labels, table)
			if err != nil {
				t.Fatalf("Decide() failed: %v", err)
			}
			if d.ReasonCode != tt.wantReason {
				t.Errorf("ReasonCode = %q, want %q", d.ReasonCode, tt.wantReason)
			}
			if d.Order != tt.wantOrder {
				t.Errorf("Order = %d, want %d", d.Order, tt.wantOrder)
			}
			if d.Value != decision.InsufficientInformation {
				t.Errorf("Value = %q, want %q", d.Value, decision.InsufficientInformation)
			}
			if got := len(d.Rule().Clauses); got != 1 {
				t.Errorf("decision carries %d clauses, want 1", got)
			}
		})
	}
}

// TestDecideThresholdIsInclusive checks that a score of exactly 0.5 counts as present.
func TestDecideThresholdIsInclusive(t *testing.T) {
	d, err := decision.Decide(
		scores(t, map[decision.Label]float64{decision.TooDark: 0.5}),
		decision.DefaultLabels(),
		decision.DefaultTable(),
	)
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if d.ReasonCode != "too_dark" {
		t.Errorf("ReasonCode = %q, want too_dark at score 0.5", d.ReasonCode)
	}

	d, err = decision.Decide(
		scores(t, map[decision.Label]float64{decision.TooDark: 0.4999}),
		decision.DefaultLabels(),
		decision.DefaultTable(),
	)
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if d.ReasonCode == "too_dark" {
		t.Errorf("score 0.4999 must not trigger too_dark")
	}
}

// TestDecideFallsThroughToCatchAll uses a table that leaves some visibility
// combinations unlisted; those land on the catch-all rule.
func TestDecideFallsThroughToCatchAll(t *testing.T) {
	labels := decision.DefaultLabels()
	rules := decision.DefaultRules()

	// Keep too_dark, "none visible", "all visible" and the catch-all.
	partial := []decision.Rule{rules[0], rules[1], rules[8], rules[9]}
	table, err := decision.NewTable(labels, partial)
	if err != nil {
		t.Fatalf("NewTable() failed: %v", err)
	}

	vec := scores(t, map[decision.Label]float64{
		decision.PackageVisible:         0.9,
		decision.DropoffLocationVisible: 0.2,
		decision.UnitNumberVisible:      0.8,
	})

	d, err := decision.Decide(vec, labels, table)
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if d.ReasonCode != "no_clear_decision" {
		t.Errorf("ReasonCode = %q, want no_clear_decision", d.ReasonCode)
	}
	if d.MatchedCondition() != decision.CatchAllToken {
		t.Errorf("MatchedCondition() = %q, want %q", d.MatchedCondition(), decision.CatchAllToken)
	}
}

// TestDecideReportsFirstMatchingClause checks clause order inside a rule only
// affects the reported condition.
func TestDecideReportsFirstMatchingClause(t *testing.T) {
	labels := decision.DefaultLabels()
	rules := []decision.Rule{
		{
			Title:      "Bad quality",
			ReasonCode: "bad_quality",
			Clauses: []decision.Clause{
				decision.When(decision.Is(decision.Reflection, true)),
				decision.When(decision.Is(decision.Blur, true)),
				decision.When(decision.Is(decision.TooDark, true)),
			},
			Value: decision.InsufficientInformation,
			Order: 1,
		},
		{
			Title:      "Fine",
			ReasonCode: "fine",
			Clauses:    []decision.Clause{decision.Always()},
			Value:      decision.SufficientInformation,
			Order:      2,
		},
	}
	table := decision.MustTable(labels, rules)

	vec := scores(t, map[decision.Label]float64{decision.Blur: 0.9, decision.TooDark: 0.9})
	d, err := decision.Decide(vec, labels, table)
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if d.ReasonCode != "bad_quality" {
		t.Fatalf("ReasonCode = %q, want bad_quality", d.ReasonCode)
	}
	if got := d.MatchedCondition(); got != "blur==true" {
		t.Errorf("MatchedCondition() = %q, want blur==true", got)
	}
}

// TestDecideOrderIsNotInputOrder checks rules are evaluated by Order, not slice position.
func TestDecideOrderIsNotInputOrder(t *testing.T) {
	labels := decision.DefaultLabels()
	rules := decision.DefaultRules()

	reversed := make([]decision.Rule, len(rules))
	for i, r := range rules {
		reversed[len(rules)-1-i] = r
	}
	table := decision.MustTable(labels, reversed)

	d, err := decision.Decide(scores(t, map[decision.Label]float64{decision.TooDark: 1}), labels, table)
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if d.ReasonCode != "too_dark" {
		t.Errorf("ReasonCode = %q, want too_dark", d.ReasonCode)
	}
}

func TestDecideRejectsMismatchedLabels(t *testing.T) {
	short, err := decision.NewLabels("too_dark", "blur")
	if err != nil {
		t.Fatalf("NewLabels() failed: %v", err)
	}
	vec, err := decision.NewConfidenceVector(short, []float64{0.9, 0.1})
	if err != nil {
		t.Fatalf("NewConfidenceVector() failed: %v", err)
	}

	_, err = decision.Decide(vec, decision.DefaultLabels(), decision.DefaultTable())
	if !errors.Is(err, decision.ErrVectorLength) {
		t.Errorf("Decide() error = %v, want ErrVectorLength", err)
	}
}

func TestNewConfidenceVectorValidation(t *testing.T) {
	labels := decision.Labels{decision.TooDark, decision.Blur}

	tests := []struct {
		name    string
		scores  []float64
		wantErr error
	}{
		{"too short", []float64{0.2}, decision.ErrVectorLength},
		{"too long", []float64{0.2, 0.3, 0.4}, decision.ErrVectorLength},
		{"negative", []float64{-0.1, 0.3}, decision.ErrScoreRange},
		{"above one", []float64{0.1, 1.01}, decision.ErrScoreRange},
		{"bounds ok", []float64{0, 1}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decision.NewConfidenceVector(labels, tt.scores)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewConfidenceVector() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfidenceVectorIsImmutable(t *testing.T) {
	labels := decision.Labels{decision.TooDark}
	raw := []float64{0.7}

	vec, err := decision.NewConfidenceVector(labels, raw)
	if err != nil {
		t.Fatalf("NewConfidenceVector() failed: %v", err)
	}
	raw[0] = 0.1
	vec.Scores()[0] = 0.2

	if vec.At(0) != 0.7 {
		t.Errorf("At(0) = %v, want 0.7 after external mutation", vec.At(0))
	}
}
