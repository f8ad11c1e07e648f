// Package events defines the domain events the engine emits after a
// unit commits, plus the publisher contract. Publishing is best-effort:
// a failed publish is logged by the caller, never rolled back.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicPayments = "billing.payments"
	TopicRefunds  = "billing.refunds"
)

// Publisher delivers events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// PaymentRecorded is emitted once a payment and its allocations commit.
type PaymentRecorded struct {
	PaymentID  string          `json:"payment_id"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Allocated  decimal.Decimal `json:"allocated"`
	OnAccount  decimal.Decimal `json:"on_account"`
	InvoiceIDs []string        `json:"invoice_ids"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// PaymentRefunded is emitted once a refund commits.
type PaymentRefunded struct {
	PaymentID  string          `json:"payment_id"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Nop discards every event. Used in tests and when no broker is
// configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
