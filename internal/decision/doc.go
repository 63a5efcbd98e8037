// Package decision turns a classifier confidence vector into exactly one
// caller-facing decision using an ordered, data-defined rule table.
//
// # Model
//
//	ConfidenceVector  [0.91, 0.12, ...]          one score per Label, label order
//	      ↓ threshold (score >= 0.5)
//	PredicateSet      {too_dark: true, blur: false, ...}   total over all labels
//	      ↓ first rule (ascending Order) with a satisfied clause
//	Decision          rule fields + the single clause that matched
//
// A Rule matches when ANY of its clauses matches. A Clause matches when ALL of
// its label tests hold, or when it is the catch-all clause. Clause order inside
// a rule only changes which condition is reported, never which rule wins.
//
// # Table validation
//
// NewTable rejects tables that would make evaluation ambiguous:
//
//   - duplicate reason codes
//   - duplicate order numbers (ties have no defined winner)
//   - zero or more than one catch-all rule
//   - a catch-all rule that is not the highest order
//   - clauses that test labels outside the label set
//
// A validated Table is immutable and safe for concurrent use. Decide is pure:
// same vector and table always yield the same Decision.
//
// # Condition syntax
//
// Rules can be written as text, matching the format used by the model team:
//
//	too_dark==true
//	package_visible==true&&dropoff_location_visible==false
//	decision_default
//
// See ParseClause.
package decision
