/*
refund.go - Compensating entries for payments

PURPOSE:
  Processes a full or partial refund of an existing payment: validate
  the refundable amount, append the reversing ledger debit, bump the
  payment's refunded amount. One atomic unit, same retry rules as
  payment creation.

KNOWN LIMITATION (deliberately preserved):
  Refunding does NOT reverse the payment's allocation rows and does NOT
  move affected invoices back to an unpaid state. The source system
  behaves this way and the behavior is kept rather than silently fixed;
  the reversing transaction references the payment, so the data needed
  to reconcile later is all in the ledger.
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tally/billing-engine/events"
	"github.com/tally/billing-engine/ledger"
)

// RefundProcessor reverses payments with compensating ledger debits.
type RefundProcessor struct {
	Store     TxStore
	Publisher events.Publisher
	Logger    *zap.Logger

	MaxAttempts  int
	RetryBackoff time.Duration
}

func NewRefundProcessor(store TxStore, publisher events.Publisher, logger *zap.Logger) *RefundProcessor {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefundProcessor{
		Store:        store,
		Publisher:    publisher,
		Logger:       logger,
		MaxAttempts:  defaultMaxAttempts,
		RetryBackoff: defaultRetryBackoff,
	}
}

// RefundInput identifies the payment and, optionally, how much of it
// to reverse. A nil Amount means "everything still refundable".
type RefundInput struct {
	PaymentID string
	Amount    *decimal.Decimal
	Reason    string
}

// RefundResult reports the committed reversal.
type RefundResult struct {
	Payment       Payment // state after the refund
	Refunded      decimal.Decimal
	Remaining     decimal.Decimal // still refundable afterwards
	TransactionID ledger.TransactionID
}

// Refund appends the reversing debit and updates the payment, as one
// atomic unit.
func (rp *RefundProcessor) Refund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	if input.PaymentID == "" {
		return nil, &ledger.ValidationError{Field: "payment_id", Message: "must not be empty"}
	}
	if input.Amount != nil && !input.Amount.IsPositive() {
		return nil, &ledger.ValidationError{Field: "amount", Message: "must be positive"}
	}

	var result *RefundResult
	err := retryOnConflict(ctx, rp.Logger, rp.MaxAttempts, rp.RetryBackoff, "refund payment", func() error {
		r, err := rp.refundOnce(ctx, input)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := events.PaymentRefunded{
		PaymentID:  result.Payment.ID,
		CustomerID: string(result.Payment.CustomerID),
		Amount:     result.Refunded,
		Reason:     input.Reason,
		OccurredAt: time.Now().UTC(),
	}
	if err := rp.Publisher.Publish(ctx, events.TopicRefunds, event); err != nil {
		rp.Logger.Warn("refund event publish failed",
			zap.String("payment_id", result.Payment.ID),
			zap.Error(err))
	}

	return result, nil
}

func (rp *RefundProcessor) refundOnce(ctx context.Context, input RefundInput) (*RefundResult, error) {
	var result RefundResult

	err := rp.Store.WithTx(ctx, func(s Store) error {
		payment, err := s.GetPayment(ctx, input.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return &ledger.NotFoundError{Entity: "payment", ID: input.PaymentID}
		}

		refundable := payment.Refundable()
		amount := refundable
		if input.Amount != nil {
			amount = *input.Amount
		}
		if !amount.IsPositive() {
			return &ledger.ValidationError{Field: "amount", Message: "nothing left to refund"}
		}
		if amount.GreaterThan(refundable) {
			return &ledger.ValidationError{
				Field:   "amount",
				Message: "refund " + amount.String() + " exceeds refundable " + refundable.String(),
			}
		}

		description := "refund of payment " + payment.ID
		if input.Reason != "" {
			description = "refund: " + input.Reason
		}
		tx, err := ledger.New(s).Apply(ctx, ledger.Transaction{
			CustomerID:  payment.CustomerID,
			Amount:      amount,
			Type:        ledger.TxDebit,
			Description: description,
			Reference:   ledger.Reference{Kind: ledger.RefRefund, ID: payment.ID},
		})
		if err != nil {
			return err
		}

		refunded := payment.RefundedAmount.Add(amount)
		if err := s.UpdatePaymentRefundedAmount(ctx, payment.ID, refunded); err != nil {
			return err
		}

		payment.RefundedAmount = refunded
		result = RefundResult{
			Payment:       *payment,
			Refunded:      amount,
			Remaining:     payment.Refundable(),
			TransactionID: tx.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
