/*
account.go - Per-customer balance projection

PURPOSE:
  An Account is the materialized view of one customer's transaction log.
  It is never edited directly: the only way a balance moves is by
  appending a transaction, and the projection must always equal a replay
  of the full log from the opening balance.

KEY INSIGHT:
  Keeping the balance as a recomputable projection turns the concurrency
  hazard of a shared mutable counter into a replay-and-compare problem
  with a clear correctness oracle (see Replay and Ledger.VerifyBalance).

LIFECYCLE:
  Accounts materialize implicitly on the first transaction for a customer
  with a zero opening balance unless explicitly seeded. They are never
  deleted while transactions reference them.
*/
package ledger

import "github.com/shopspring/decimal"

// Account is the balance projection for one customer.
type Account struct {
	CustomerID     CustomerID
	OpeningBalance decimal.Decimal // set once at creation, immutable
	CurrentBalance decimal.Decimal // derived; equals Replay over the log
}

// ZeroAccount returns the implicit projection for a customer with no
// transactions yet. Reading an absent account is not an error.
func ZeroAccount(customerID CustomerID) Account {
	return Account{
		CustomerID:     customerID,
		OpeningBalance: decimal.Zero,
		CurrentBalance: decimal.Zero,
	}
}

// ApplyTransaction returns the projection after one more transaction.
func (a Account) ApplyTransaction(tx Transaction) Account {
	a.CurrentBalance = a.CurrentBalance.Add(tx.SignedAmount())
	return a
}

// Receivable reports whether the customer owes the business.
func (a Account) Receivable() bool { return a.CurrentBalance.IsPositive() }

// Payable reports whether the business owes the customer.
func (a Account) Payable() bool { return a.CurrentBalance.IsNegative() }

// Replay recomputes a balance from an opening balance and a transaction
// history. The result is order-independent (a signed sum); ordering of
// the input matters only for audit display.
func Replay(opening decimal.Decimal, txs []Transaction) decimal.Decimal {
	balance := opening
	for _, tx := range txs {
		balance = balance.Add(tx.SignedAmount())
	}
	return balance
}
