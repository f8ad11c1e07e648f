/*
store.go - Persistence interface for billing entities

PURPOSE:
  Extends the ledger store with the invoice/payment/allocation tables
  and the transaction boundary the processors need. PaymentProcessor
  and RefundProcessor each run as one WithTx unit: either every write
  in the unit becomes durable or none does.

CONCURRENCY:
  Two payments racing on the same invoice must never over-allocate it.
  Stores enforce this two ways:
  - WithTx units are serializable per store implementation
  - SaveAllocation re-checks the per-invoice cap and returns an
    OverAllocationError (a conflict) when the cap would be exceeded
  Conflicts are the only retryable failures; the processors own the
  bounded retry loop.

IMPLEMENTATIONS:
  - store/memory:   snapshot-rollback transactions, for tests and dev
  - store/sqlite:   single-writer SQL transactions
  - store/postgres: SERIALIZABLE transactions, 40001 mapped to conflict
*/
package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tally/billing-engine/ledger"
)

// Store persists billing entities alongside the ledger log.
type Store interface {
	ledger.Store

	// SeedAccount creates a ledger account with an explicit opening
	// balance. Fails with a ValidationError if the customer already
	// has an account; implicit zero-balance accounts need no seeding.
	SeedAccount(ctx context.Context, account ledger.Account) error

	// Customers
	SaveCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)

	// Invoices
	SaveInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	// ListOpenInvoices returns sent/overdue invoices for a customer,
	// oldest first (IssuedAt, then ID).
	ListOpenInvoices(ctx context.Context, customerID ledger.CustomerID) ([]Invoice, error)
	// UpdateInvoiceStatus bumps the invoice version. A stale
	// expectedVersion means another writer got there first and yields
	// ledger.ErrConflict.
	UpdateInvoiceStatus(ctx context.Context, invoiceID string, status InvoiceStatus, expectedVersion int) error

	// Payments
	SavePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	UpdatePaymentRefundedAmount(ctx context.Context, paymentID string, refunded decimal.Decimal) error

	// Allocations. SaveAllocation enforces the per-invoice cap.
	SaveAllocation(ctx context.Context, a Allocation) error
	AllocationsByPayment(ctx context.Context, paymentID string) ([]Allocation, error)
	AllocationsByInvoice(ctx context.Context, invoiceID string) ([]Allocation, error)
}

// TxStore wraps Store with a commit-or-abort boundary.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error
	// the transaction is rolled back and nothing observable changes.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// OverAllocationError is returned when an allocation would push an
// invoice past its total due. Under the serializable transaction
// discipline this only happens when two units raced, so it unwraps to
// ledger.ErrConflict and is retryable.
type OverAllocationError struct {
	InvoiceID   string
	Outstanding decimal.Decimal
	Requested   decimal.Decimal
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("invoice %s: allocation %s exceeds outstanding %s",
		e.InvoiceID, e.Requested, e.Outstanding)
}

func (e *OverAllocationError) Unwrap() error { return ledger.ErrConflict }
