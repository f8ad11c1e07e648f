/*
summary.go - Read-only rollup across all customer balances

PURPOSE:
  Answers "where does the book stand overall?": how many customers are
  in credit, in debt, or settled, and the receivable/payable totals.

CONSISTENCY:
  The rollup is computed from the authoritative projections, not by
  replaying every transaction log on each call. At any quiescent point
  (no in-flight writes) it must equal a full replay of every account;
  the projection contract on Store.Append guarantees that.
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Summary is the ledger-wide rollup by balance sign.
type Summary struct {
	TotalCustomers int `json:"total_customers"`

	WithReceivable int `json:"with_receivable"` // positive balance: customer owes the business
	WithPayable    int `json:"with_payable"`    // negative balance: business owes the customer
	WithZero       int `json:"with_zero"`

	Receivables decimal.Decimal `json:"receivables"`  // sum of positive balances
	Payables    decimal.Decimal `json:"payables"`     // sum of |negative balances|
	NetPosition decimal.Decimal `json:"net_position"` // receivables - payables
}

// SummaryAggregator produces the rollup from stored projections.
type SummaryAggregator struct {
	Store Store
}

func NewSummaryAggregator(store Store) *SummaryAggregator {
	return &SummaryAggregator{Store: store}
}

func (a *SummaryAggregator) Summarize(ctx context.Context) (Summary, error) {
	accounts, err := a.Store.Accounts(ctx)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Receivables: decimal.Zero,
		Payables:    decimal.Zero,
	}
	for _, account := range accounts {
		s.TotalCustomers++
		switch {
		case account.Receivable():
			s.WithReceivable++
			s.Receivables = s.Receivables.Add(account.CurrentBalance)
		case account.Payable():
			s.WithPayable++
			s.Payables = s.Payables.Add(account.CurrentBalance.Neg())
		default:
			s.WithZero++
		}
	}
	s.NetPosition = s.Receivables.Sub(s.Payables)
	return s, nil
}
