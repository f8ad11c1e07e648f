/*
allocation.go - Splitting a payment across outstanding invoices

PURPOSE:
  Given a payment amount and an ordered list of candidate invoices,
  decide how much applies to each. The engine is pure: it never touches
  a store, which makes the algorithm trivially testable.

ALGORITHM:
  Walk invoices oldest first ("pay oldest debt first"); allocate
  min(remaining payment, invoice outstanding); stop when the payment or
  the candidates are exhausted.

REMAINDER:
  What happens to money left after every candidate is satisfied is an
  explicit policy choice, never an implicit default:
    RemainderOnAccount - keep it as on-account credit for future invoices
    RemainderReject    - fail the payment with a ValidationError
*/
package billing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tally/billing-engine/ledger"
)

// =============================================================================
// REMAINDER POLICY
// =============================================================================

type RemainderPolicy string

const (
	// RemainderOnAccount keeps unallocated money as customer credit.
	RemainderOnAccount RemainderPolicy = "on_account"
	// RemainderReject refuses payments that exceed the candidates'
	// combined outstanding amounts.
	RemainderReject RemainderPolicy = "reject"
)

// ParseRemainderPolicy maps the wire value, defaulting to on-account.
func ParseRemainderPolicy(s string) (RemainderPolicy, error) {
	switch RemainderPolicy(s) {
	case "", RemainderOnAccount:
		return RemainderOnAccount, nil
	case RemainderReject:
		return RemainderReject, nil
	default:
		return "", &ledger.ValidationError{Field: "remainder_policy", Message: "unknown policy: " + s}
	}
}

// =============================================================================
// CANDIDATES AND RESULT
// =============================================================================

// Candidate pairs an invoice with its outstanding amount, computed by
// the caller inside the same transaction that will persist the plan.
type Candidate struct {
	Invoice     Invoice
	Outstanding decimal.Decimal
}

// Line is one (invoice, amount) pair of the plan.
type Line struct {
	InvoiceID         string
	InvoiceVersion    int
	Amount            decimal.Decimal
	OutstandingBefore decimal.Decimal
	OutstandingAfter  decimal.Decimal
}

// Satisfied reports whether this line fully pays off the invoice.
func (l Line) Satisfied() bool { return l.OutstandingAfter.IsZero() }

// Plan is the engine's decision: how the payment splits and what is
// left over.
type Plan struct {
	Lines          []Line
	TotalAllocated decimal.Decimal
	Remainder      decimal.Decimal
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine computes allocation plans under a remainder policy.
type Engine struct {
	Policy RemainderPolicy
}

func NewEngine(policy RemainderPolicy) *Engine {
	return &Engine{Policy: policy}
}

// Allocate splits amount across the candidates, oldest invoice first.
//
// Edge cases:
//   - amount <= 0: ValidationError
//   - zero candidates: the whole payment is remainder (on-account
//     credit under the default policy, rejection under RemainderReject)
//   - candidates with zero outstanding produce no line
func (e *Engine) Allocate(amount decimal.Decimal, candidates []Candidate) (Plan, error) {
	if !amount.IsPositive() {
		return Plan{}, &ledger.ValidationError{Field: "amount", Message: "must be positive"}
	}

	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Invoice.IssuedAt.Equal(ordered[j].Invoice.IssuedAt) {
			return ordered[i].Invoice.IssuedAt.Before(ordered[j].Invoice.IssuedAt)
		}
		return ordered[i].Invoice.ID < ordered[j].Invoice.ID
	})

	plan := Plan{TotalAllocated: decimal.Zero}
	remaining := amount

	for _, c := range ordered {
		if remaining.IsZero() {
			break
		}
		if !c.Outstanding.IsPositive() {
			continue
		}

		allocated := decimal.Min(remaining, c.Outstanding)
		plan.Lines = append(plan.Lines, Line{
			InvoiceID:         c.Invoice.ID,
			InvoiceVersion:    c.Invoice.Version,
			Amount:            allocated,
			OutstandingBefore: c.Outstanding,
			OutstandingAfter:  c.Outstanding.Sub(allocated),
		})
		plan.TotalAllocated = plan.TotalAllocated.Add(allocated)
		remaining = remaining.Sub(allocated)
	}

	plan.Remainder = remaining
	if e.Policy == RemainderReject && remaining.IsPositive() {
		return Plan{}, &ledger.ValidationError{
			Field:   "amount",
			Message: "payment exceeds outstanding invoices by " + remaining.String(),
		}
	}
	return plan, nil
}
