/*
Package ledger provides the customer ledger engine.

PURPOSE:
  This package contains the core types and services for tracking what each
  customer owes (or is owed). Every charge, payment, refund, and manual
  adjustment is recorded as an immutable transaction; the per-customer
  balance is a projection that must always equal a replay of the log.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable ledger entry recording a balance change
  - TransactionType: debit (raises the balance) or credit (lowers it)
  - Reference: A closed tagged union linking an entry to its origin
    (payment, invoice, refund, manual adjustment)

SIGN CONVENTION:
  A positive balance means the customer owes the business (receivable);
  a negative balance means the business owes the customer (payable).
  Debits add to the balance, credits subtract from it. Payments are
  credits; invoice charges and refunds are debits. This convention is
  fixed across every entry point.

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never edited, only offset
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Exhaustiveness: Reference kinds are a closed enum, not free strings

SEE ALSO:
  - ledger.go: Append/balance service over a Store
  - account.go: Balance projection and the replay oracle
  - store.go: Persistence interface
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type TransactionID string

// NewTransactionID returns a fresh unique transaction id.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.New().String())
}

// =============================================================================
// TRANSACTION - Immutable, signed monetary entry
// =============================================================================

type TransactionType string

const (
	// TxDebit raises the customer's balance (charge, refund).
	TxDebit TransactionType = "debit"
	// TxCredit lowers the customer's balance (payment, on-account credit).
	TxCredit TransactionType = "credit"
)

// ReferenceKind identifies what originated a transaction.
// Closed set: exhaustive switches over it are expected to stay exhaustive.
type ReferenceKind string

const (
	RefNone       ReferenceKind = ""
	RefPayment    ReferenceKind = "payment"
	RefInvoice    ReferenceKind = "invoice"
	RefRefund     ReferenceKind = "refund"
	RefAdjustment ReferenceKind = "adjustment"
)

// Reference links a transaction back to the entity that caused it.
type Reference struct {
	Kind ReferenceKind
	ID   string
}

// IsZero reports whether the reference is unset.
func (r Reference) IsZero() bool { return r.Kind == RefNone && r.ID == "" }

// Transaction is a single immutable ledger entry.
//
// INVARIANTS:
//   - Amount is strictly positive; the sign comes from Type.
//   - Once appended, a transaction is never modified or deleted.
//     Corrections are made by appending an offsetting entry.
type Transaction struct {
	ID          TransactionID
	CustomerID  CustomerID
	Amount      decimal.Decimal
	Type        TransactionType
	Description string
	Reference   Reference
	CreatedAt   time.Time
}

// SignedAmount applies the sign convention: debits are positive,
// credits are negative.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TxCredit {
		return t.Amount.Neg()
	}
	return t.Amount
}
