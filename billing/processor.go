/*
processor.go - Atomic payment creation

PURPOSE:
  The PaymentProcessor is the only entry point that creates a Payment
  and its allocations. One call means one serializable store
  transaction: payment row, allocation rows, the ledger credit, and any
  invoice status changes all commit together or not at all.

FAILURE MODES:
  - unknown/foreign invoice          -> NotFoundError (terminal)
  - non-positive amount, bad policy  -> ValidationError (terminal)
  - racing unit on the same invoice  -> conflict, retried with backoff
  - store failure mid-unit           -> rolled back, surfaced as-is

EVENTS:
  A PaymentRecorded event is published after commit. Publish failures
  are logged and dropped; the payment already happened.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tally/billing-engine/events"
	"github.com/tally/billing-engine/ledger"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 25 * time.Millisecond
)

// Processor creates payments atomically.
type Processor struct {
	Store     TxStore
	Publisher events.Publisher
	Logger    *zap.Logger

	// MaxAttempts bounds the conflict retry loop (total attempts).
	MaxAttempts int
	// RetryBackoff is the base delay between attempts; it grows
	// linearly with the attempt number.
	RetryBackoff time.Duration
}

func NewProcessor(store TxStore, publisher events.Publisher, logger *zap.Logger) *Processor {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		Store:        store,
		Publisher:    publisher,
		Logger:       logger,
		MaxAttempts:  defaultMaxAttempts,
		RetryBackoff: defaultRetryBackoff,
	}
}

// CreatePaymentInput carries everything needed to record a payment.
type CreatePaymentInput struct {
	CustomerID      ledger.CustomerID
	Amount          decimal.Decimal
	Method          string
	ReferenceNumber string
	PaymentDate     time.Time
	Notes           string

	// InvoiceIDs restricts allocation to specific invoices. Empty
	// means auto-select the customer's open invoices, oldest first.
	InvoiceIDs []string

	// Remainder controls what happens to money left after the
	// candidates are satisfied. Zero value defaults to on-account.
	Remainder RemainderPolicy
}

// PaymentResult reports what the unit committed.
type PaymentResult struct {
	Payment      Payment
	Allocations  []Allocation
	OnAccount    decimal.Decimal // remainder kept as customer credit
	PaidInvoices []string        // invoices fully satisfied by this payment
}

// CreatePayment records the payment, allocates it, appends the ledger
// credit, and marks fully satisfied invoices paid, as one atomic unit.
func (p *Processor) CreatePayment(ctx context.Context, input CreatePaymentInput) (*PaymentResult, error) {
	if input.CustomerID == "" {
		return nil, &ledger.ValidationError{Field: "customer_id", Message: "must not be empty"}
	}
	if !input.Amount.IsPositive() {
		return nil, &ledger.ValidationError{Field: "amount", Message: "must be positive"}
	}
	policy := input.Remainder
	if policy == "" {
		policy = RemainderOnAccount
	}

	var result *PaymentResult
	err := retryOnConflict(ctx, p.Logger, p.MaxAttempts, p.RetryBackoff, "create payment", func() error {
		r, err := p.createOnce(ctx, input, policy)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := events.PaymentRecorded{
		PaymentID:  result.Payment.ID,
		CustomerID: string(result.Payment.CustomerID),
		Amount:     result.Payment.Amount,
		Allocated:  SumAllocations(result.Allocations),
		OnAccount:  result.OnAccount,
		OccurredAt: result.Payment.CreatedAt,
	}
	for _, a := range result.Allocations {
		event.InvoiceIDs = append(event.InvoiceIDs, a.InvoiceID)
	}
	if err := p.Publisher.Publish(ctx, events.TopicPayments, event); err != nil {
		p.Logger.Warn("payment event publish failed",
			zap.String("payment_id", result.Payment.ID),
			zap.Error(err))
	}

	return result, nil
}

func (p *Processor) createOnce(ctx context.Context, input CreatePaymentInput, policy RemainderPolicy) (*PaymentResult, error) {
	var result PaymentResult

	err := p.Store.WithTx(ctx, func(s Store) error {
		candidates, err := p.selectCandidates(ctx, s, input)
		if err != nil {
			return err
		}

		plan, err := NewEngine(policy).Allocate(input.Amount, candidates)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		paymentDate := input.PaymentDate
		if paymentDate.IsZero() {
			paymentDate = now
		}
		payment := Payment{
			ID:              NewID(),
			CustomerID:      input.CustomerID,
			Amount:          input.Amount,
			Method:          input.Method,
			ReferenceNumber: input.ReferenceNumber,
			PaymentDate:     paymentDate,
			Notes:           input.Notes,
			RefundedAmount:  decimal.Zero,
			CreatedAt:       now,
		}
		if err := s.SavePayment(ctx, payment); err != nil {
			return err
		}

		var allocations []Allocation
		var paid []string
		for _, line := range plan.Lines {
			alloc := Allocation{
				ID:        NewID(),
				PaymentID: payment.ID,
				InvoiceID: line.InvoiceID,
				Amount:    line.Amount,
				CreatedAt: now,
			}
			if err := s.SaveAllocation(ctx, alloc); err != nil {
				return err
			}
			allocations = append(allocations, alloc)

			if line.Satisfied() {
				if err := s.UpdateInvoiceStatus(ctx, line.InvoiceID, InvoicePaid, line.InvoiceVersion); err != nil {
					return err
				}
				paid = append(paid, line.InvoiceID)
			}
		}

		// One credit for the full payment amount, remainder included.
		_, err = ledger.New(s).Apply(ctx, ledger.Transaction{
			CustomerID:  input.CustomerID,
			Amount:      input.Amount,
			Type:        ledger.TxCredit,
			Description: paymentDescription(payment),
			Reference:   ledger.Reference{Kind: ledger.RefPayment, ID: payment.ID},
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}

		result = PaymentResult{
			Payment:      payment,
			Allocations:  allocations,
			OnAccount:    plan.Remainder,
			PaidInvoices: paid,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// selectCandidates resolves the invoices the payment may pay down,
// with their outstanding amounts, inside the current transaction.
func (p *Processor) selectCandidates(ctx context.Context, s Store, input CreatePaymentInput) ([]Candidate, error) {
	var invoices []Invoice

	if len(input.InvoiceIDs) > 0 {
		seen := make(map[string]struct{}, len(input.InvoiceIDs))
		for _, id := range input.InvoiceIDs {
			if _, dup := seen[id]; dup {
				return nil, &ledger.ValidationError{
					Field:   "invoice_ids",
					Message: "duplicate invoice id " + id,
				}
			}
			seen[id] = struct{}{}

			inv, err := s.GetInvoice(ctx, id)
			if err != nil {
				return nil, err
			}
			if inv == nil || inv.CustomerID != input.CustomerID {
				return nil, &ledger.NotFoundError{Entity: "invoice", ID: id}
			}
			if !inv.Open() && inv.Status != InvoicePaid {
				return nil, &ledger.ValidationError{
					Field:   "invoice_ids",
					Message: fmt.Sprintf("invoice %s is %s and cannot receive payments", id, inv.Status),
				}
			}
			invoices = append(invoices, *inv)
		}
	} else {
		open, err := s.ListOpenInvoices(ctx, input.CustomerID)
		if err != nil {
			return nil, err
		}
		invoices = open
	}

	candidates := make([]Candidate, 0, len(invoices))
	for _, inv := range invoices {
		allocs, err := s.AllocationsByInvoice(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{
			Invoice:     inv,
			Outstanding: inv.TotalDue().Sub(SumAllocations(allocs)),
		})
	}
	return candidates, nil
}

// retryOnConflict re-runs fn on conflicts only, up to the given number
// of attempts, with a linearly growing backoff. All other errors are
// terminal.
func retryOnConflict(ctx context.Context, logger *zap.Logger, attempts int, backoff time.Duration, op string, fn func() error) error {
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !ledger.IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		logger.Debug("retrying after conflict",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * backoff):
		}
	}
	return err
}

func paymentDescription(p Payment) string {
	if p.ReferenceNumber != "" {
		return fmt.Sprintf("payment %s (%s)", p.ReferenceNumber, p.Method)
	}
	return "payment " + p.Method
}
