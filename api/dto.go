/*
dto.go - Request/response shapes and error translation

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  internal domain model. Amounts cross the wire as JSON strings
  ("125.50"); shopspring/decimal marshals them that way and it keeps
  clients honest about precision.

ERROR MAPPING:
  - 400: validation errors, invalid input
  - 404: unknown customer/invoice/payment
  - 409: conflict after the retry budget is spent
  - 500: store failures and everything else
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tally/billing-engine/billing"
	"github.com/tally/billing-engine/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

type createCustomerRequest struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Email          string           `json:"email,omitempty"`
	OpeningBalance *decimal.Decimal `json:"opening_balance,omitempty"`
}

type createInvoiceRequest struct {
	ID         string          `json:"id,omitempty"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Tax        decimal.Decimal `json:"tax"`
	Status     string          `json:"status,omitempty"`
	IssuedAt   *time.Time      `json:"issued_at,omitempty"`
}

type createPaymentRequest struct {
	CustomerID      string          `json:"customer_id"`
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"method,omitempty"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	PaymentDate     *time.Time      `json:"payment_date,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	InvoiceIDs      []string        `json:"invoice_ids,omitempty"`
	RemainderPolicy string          `json:"remainder_policy,omitempty"`
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

type loadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type customerDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type balanceDTO struct {
	CustomerID     string          `json:"customer_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Receivable     bool            `json:"receivable"`
	Payable        bool            `json:"payable"`
}

type transactionDTO struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type"`
	Description   string          `json:"description,omitempty"`
	ReferenceKind string          `json:"reference_kind,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type invoiceDTO struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Tax         decimal.Decimal `json:"tax"`
	TotalDue    decimal.Decimal `json:"total_due"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Status      string          `json:"status"`
	IssuedAt    time.Time       `json:"issued_at"`
}

type allocationDTO struct {
	InvoiceID string          `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type paymentDTO struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id"`
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"method,omitempty"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	PaymentDate     time.Time       `json:"payment_date"`
	Notes           string          `json:"notes,omitempty"`
	RefundedAmount  decimal.Decimal `json:"refunded_amount"`
	Allocations     []allocationDTO `json:"allocations"`
	OnAccount       decimal.Decimal `json:"on_account"`
	PaidInvoices    []string        `json:"paid_invoices,omitempty"`
}

type refundDTO struct {
	PaymentID     string          `json:"payment_id"`
	Refunded      decimal.Decimal `json:"refunded"`
	Remaining     decimal.Decimal `json:"remaining_refundable"`
	TransactionID string          `json:"transaction_id"`
}

type auditDTO struct {
	CustomerID string          `json:"customer_id"`
	Balance    decimal.Decimal `json:"balance"`
	Consistent bool            `json:"consistent"`
	Detail     string          `json:"detail,omitempty"`
}

type scenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCustomerDTO(c billing.Customer) customerDTO {
	return customerDTO{ID: c.ID, Name: c.Name, Email: c.Email, CreatedAt: c.CreatedAt}
}

func toBalanceDTO(a ledger.Account) balanceDTO {
	return balanceDTO{
		CustomerID:     string(a.CustomerID),
		OpeningBalance: a.OpeningBalance,
		CurrentBalance: a.CurrentBalance,
		Receivable:     a.Receivable(),
		Payable:        a.Payable(),
	}
}

func toTransactionDTO(tx ledger.Transaction) transactionDTO {
	return transactionDTO{
		ID:            string(tx.ID),
		CustomerID:    string(tx.CustomerID),
		Amount:        tx.Amount,
		Type:          string(tx.Type),
		Description:   tx.Description,
		ReferenceKind: string(tx.Reference.Kind),
		ReferenceID:   tx.Reference.ID,
		CreatedAt:     tx.CreatedAt,
	}
}

func toInvoiceDTO(inv billing.Invoice, allocated decimal.Decimal) invoiceDTO {
	return invoiceDTO{
		ID:          inv.ID,
		CustomerID:  string(inv.CustomerID),
		Amount:      inv.Amount,
		Tax:         inv.Tax,
		TotalDue:    inv.TotalDue(),
		Outstanding: inv.TotalDue().Sub(allocated),
		Status:      string(inv.Status),
		IssuedAt:    inv.IssuedAt,
	}
}

func toPaymentDTO(result *billing.PaymentResult) paymentDTO {
	dto := paymentDTO{
		ID:              result.Payment.ID,
		CustomerID:      string(result.Payment.CustomerID),
		Amount:          result.Payment.Amount,
		Method:          result.Payment.Method,
		ReferenceNumber: result.Payment.ReferenceNumber,
		PaymentDate:     result.Payment.PaymentDate,
		Notes:           result.Payment.Notes,
		RefundedAmount:  result.Payment.RefundedAmount,
		OnAccount:       result.OnAccount,
		PaidInvoices:    result.PaidInvoices,
		Allocations:     []allocationDTO{},
	}
	for _, a := range result.Allocations {
		dto.Allocations = append(dto.Allocations, allocationDTO{
			InvoiceID: a.InvoiceID,
			Amount:    a.Amount,
		})
	}
	return dto
}

// =============================================================================
// PLUMBING
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}

	status := http.StatusInternalServerError
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		resp.Field = ve.Field
		status = http.StatusBadRequest
	case ledger.IsValidation(err):
		status = http.StatusBadRequest
	case ledger.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrConflict):
		// The processor already spent its retry budget.
		status = http.StatusConflict
		h.metrics.ConflictRetries.Inc()
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		resp.Error = "internal error"
	}
	h.writeJSON(w, status, resp)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ledger.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}
