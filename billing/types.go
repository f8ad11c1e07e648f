/*
Package billing orchestrates payments, refunds, and invoice allocation
on top of the customer ledger.

PURPOSE:
  The ledger package knows nothing about invoices or payments; this
  package owns those entities and the two orchestrations with real
  failure semantics: splitting an incoming payment across outstanding
  invoices (PaymentProcessor + allocation engine) and reversing part of
  a payment (RefundProcessor).

KEY CONCEPTS IN THIS FILE (types.go):
  - Customer: minimal directory record; balances live in the ledger
  - Invoice:  referenced by allocations; TotalDue = Amount + Tax
  - Payment:  incoming money; RefundedAmount tracks reversals
  - Allocation: the portion of one payment applied to one invoice

SEE ALSO:
  - allocation.go: How a payment is split across invoices
  - processor.go:  Atomic payment creation
  - refund.go:     Compensating entries
*/
package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tally/billing-engine/ledger"
)

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer is the directory record the billing surface manages. The
// ledger only needs the id; the rest exists for the API layer.
type Customer struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// =============================================================================
// INVOICE - External entity referenced, not owned, by the ledger
// =============================================================================

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

type Invoice struct {
	ID         string
	CustomerID ledger.CustomerID
	Amount     decimal.Decimal
	Tax        decimal.Decimal
	Status     InvoiceStatus
	IssuedAt   time.Time

	// Version guards concurrent status updates (optimistic locking).
	Version int

	CreatedAt time.Time
}

// TotalDue is the full amount owed on the invoice.
func (i Invoice) TotalDue() decimal.Decimal { return i.Amount.Add(i.Tax) }

// Open reports whether the invoice can still receive allocations.
// Partial payment does not change the stored status; an invoice stays
// open until its outstanding amount reaches zero.
func (i Invoice) Open() bool {
	return i.Status == InvoiceSent || i.Status == InvoiceOverdue
}

// =============================================================================
// PAYMENT
// =============================================================================

type Payment struct {
	ID              string
	CustomerID      ledger.CustomerID
	Amount          decimal.Decimal
	Method          string
	ReferenceNumber string
	PaymentDate     time.Time
	Notes           string

	// RefundedAmount is the portion already reversed.
	// Invariant: RefundedAmount <= Amount.
	RefundedAmount decimal.Decimal

	CreatedAt time.Time
}

// Refundable is the amount still eligible for reversal.
func (p Payment) Refundable() decimal.Decimal { return p.Amount.Sub(p.RefundedAmount) }

// =============================================================================
// ALLOCATION - Portion of a payment assigned to one invoice
// =============================================================================

// Allocation rows are created only by the PaymentProcessor at payment
// creation time and never mutated afterward (refunds deliberately leave
// them in place; see refund.go).
//
// Invariants:
//   - per payment:  sum of Amount <= payment.Amount
//   - per invoice:  sum of Amount <= invoice.TotalDue()
type Allocation struct {
	ID        string
	PaymentID string
	InvoiceID string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// NewID mints the identifiers for invoices, payments and allocations.
func NewID() string { return uuid.New().String() }

// ParseInvoiceStatus validates a wire-format status string.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch status := InvoiceStatus(s); status {
	case InvoiceDraft, InvoiceSent, InvoicePaid, InvoiceOverdue, InvoiceCancelled:
		return status, nil
	default:
		return "", &ledger.ValidationError{Field: "status", Message: "unknown invoice status " + s}
	}
}

// SumAllocations totals a set of allocation rows.
func SumAllocations(allocs []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount)
	}
	return total
}
