/*
ledger.go - Append/balance service over a Store

PURPOSE:
  The Ledger validates and appends transactions and answers balance
  queries. It is deliberately thin: all durability lives in the Store,
  all orchestration (payments, refunds) lives in the billing package.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. POSITIVE AMOUNTS: Amount <= 0 is rejected with a ValidationError;
     direction comes from the transaction type, never the sign.
  3. REPLAYABLE: VerifyBalance replays the full log and must reproduce
     the stored projection exactly, at any point in time.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger is the write/read service for customer transaction logs.
type Ledger struct {
	Store Store
}

func New(store Store) *Ledger {
	return &Ledger{Store: store}
}

// Apply validates and appends a transaction, filling in the ID and
// CreatedAt when the caller left them zero. Returns the appended
// transaction as stored.
func (l *Ledger) Apply(ctx context.Context, tx Transaction) (Transaction, error) {
	if tx.CustomerID == "" {
		return Transaction{}, &ValidationError{Field: "customer_id", Message: "must not be empty"}
	}
	if !tx.Amount.IsPositive() {
		return Transaction{}, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if tx.Type != TxDebit && tx.Type != TxCredit {
		return Transaction{}, &ValidationError{Field: "type", Message: "must be debit or credit"}
	}

	if tx.ID == "" {
		tx.ID = NewTransactionID()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	if err := l.Store.Append(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Balance returns the customer's current balance. Unknown customers
// have an implicit zero balance; this is not an error.
func (l *Ledger) Balance(ctx context.Context, customerID CustomerID) (decimal.Decimal, error) {
	account, err := l.Store.Account(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.CurrentBalance, nil
}

// History returns the customer's transactions in audit order.
func (l *Ledger) History(ctx context.Context, customerID CustomerID) ([]Transaction, error) {
	return l.Store.Load(ctx, customerID)
}

// VerifyBalance replays the full transaction log for a customer and
// compares it against the stored projection. Returns the projected
// balance; a mismatch means the store violated the projection contract
// and is reported as a BalanceDriftError.
func (l *Ledger) VerifyBalance(ctx context.Context, customerID CustomerID) (decimal.Decimal, error) {
	account, err := l.Store.Account(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	txs, err := l.Store.Load(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}

	replayed := Replay(account.OpeningBalance, txs)
	if !replayed.Equal(account.CurrentBalance) {
		return account.CurrentBalance, &BalanceDriftError{
			CustomerID: customerID,
			Projected:  account.CurrentBalance,
			Replayed:   replayed,
		}
	}
	return account.CurrentBalance, nil
}
