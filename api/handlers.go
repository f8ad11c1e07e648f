/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the ledger and payment engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Customers:
    GET    /api/customers                      List customers
    POST   /api/customers                      Create customer (+account)
    GET    /api/customers/{id}                 Customer details
    GET    /api/customers/{id}/balance         Current balance projection
    GET    /api/customers/{id}/transactions    Ledger history
    GET    /api/customers/{id}/invoices        Open invoices, oldest first
    GET    /api/customers/{id}/audit           Replay-vs-projection check

  Invoices:
    POST   /api/invoices                       Create invoice
    GET    /api/invoices/{id}                  Invoice with outstanding

  Payments:
    POST   /api/payments                       Record + allocate payment
    GET    /api/payments/{id}                  Payment with allocations
    POST   /api/payments/{id}/refund           Full or partial refund

  Ledger:
    GET    /api/ledger/summary                 Receivable/payable rollup

  Scenarios:
    GET    /api/scenarios                      List demo scenarios
    POST   /api/scenarios/load                 Load a demo scenario

ARCHITECTURE:
  Handler holds the store, the two processors, and the summary
  aggregator. Handlers validate input, call domain logic, serialize.

SECURITY NOTE:
  No authentication middleware. All endpoints are public.
*/
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tally/billing-engine/billing"
	"github.com/tally/billing-engine/ledger"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.store.ListCustomers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]customerDTO, 0, len(customers))
	for _, c := range customers {
		out = append(out, toCustomerDTO(c))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// CreateCustomer registers the customer and, when an opening balance is
// given, seeds the ledger account. Customers without a seeded account
// get an implicit zero-balance one on first use.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.ID == "" {
		h.writeError(w, &ledger.ValidationError{Field: "id", Message: "must not be empty"})
		return
	}
	if req.Name == "" {
		h.writeError(w, &ledger.ValidationError{Field: "name", Message: "must not be empty"})
		return
	}

	customer := billing.Customer{
		ID:        req.ID,
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: time.Now().UTC(),
	}
	err := h.store.WithTx(r.Context(), func(s billing.Store) error {
		if err := s.SaveCustomer(r.Context(), customer); err != nil {
			return err
		}
		if req.OpeningBalance != nil {
			return s.SeedAccount(r.Context(), ledger.Account{
				CustomerID:     ledger.CustomerID(req.ID),
				OpeningBalance: *req.OpeningBalance,
				CurrentBalance: *req.OpeningBalance,
			})
		}
		return nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toCustomerDTO(customer))
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	customer, err := h.store.GetCustomer(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if customer == nil {
		h.writeError(w, &ledger.NotFoundError{Entity: "customer", ID: id})
		return
	}
	h.writeJSON(w, http.StatusOK, toCustomerDTO(*customer))
}

// GetBalance returns the balance projection. Unknown customers get a
// zero account rather than a 404; every customer implicitly has one.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))
	account, err := h.store.Account(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toBalanceDTO(account))
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))
	txs, err := h.ledger.History(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]transactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionDTO(tx))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetOpenInvoices(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))
	invoices, err := h.store.ListOpenInvoices(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]invoiceDTO, 0, len(invoices))
	for _, inv := range invoices {
		allocs, err := h.store.AllocationsByInvoice(r.Context(), inv.ID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		out = append(out, toInvoiceDTO(inv, billing.SumAllocations(allocs)))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// AuditBalance replays the customer's transaction log and compares the
// result against the stored projection.
func (h *Handler) AuditBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))
	balance, err := h.ledger.VerifyBalance(r.Context(), id)

	dto := auditDTO{CustomerID: string(id), Balance: balance, Consistent: err == nil}
	if err != nil {
		var drift *ledger.BalanceDriftError
		if !errors.As(err, &drift) {
			h.writeError(w, err)
			return
		}
		dto.Detail = drift.Error()
	}
	h.writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// INVOICES
// =============================================================================

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.CustomerID == "" {
		h.writeError(w, &ledger.ValidationError{Field: "customer_id", Message: "must not be empty"})
		return
	}
	if !req.Amount.IsPositive() {
		h.writeError(w, &ledger.ValidationError{Field: "amount", Message: "must be positive"})
		return
	}
	if req.Tax.IsNegative() {
		h.writeError(w, &ledger.ValidationError{Field: "tax", Message: "must not be negative"})
		return
	}

	status := billing.InvoiceSent
	if req.Status != "" {
		parsed, err := billing.ParseInvoiceStatus(req.Status)
		if err != nil {
			h.writeError(w, err)
			return
		}
		status = parsed
	}

	now := time.Now().UTC()
	issuedAt := now
	if req.IssuedAt != nil {
		issuedAt = *req.IssuedAt
	}
	invoice := billing.Invoice{
		ID:         req.ID,
		CustomerID: ledger.CustomerID(req.CustomerID),
		Amount:     req.Amount,
		Tax:        req.Tax,
		Status:     status,
		IssuedAt:   issuedAt,
		CreatedAt:  now,
	}
	if invoice.ID == "" {
		invoice.ID = billing.NewID()
	}

	// The invoice debit raises the customer's receivable balance; it
	// commits together with the invoice row.
	err := h.store.WithTx(r.Context(), func(s billing.Store) error {
		if err := s.SaveInvoice(r.Context(), invoice); err != nil {
			return err
		}
		if !invoice.Open() {
			return nil
		}
		_, err := ledger.New(s).Apply(r.Context(), ledger.Transaction{
			CustomerID:  invoice.CustomerID,
			Amount:      invoice.TotalDue(),
			Type:        ledger.TxDebit,
			Description: "invoice " + invoice.ID,
			Reference:   ledger.Reference{Kind: ledger.RefInvoice, ID: invoice.ID},
		})
		return err
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toInvoiceDTO(invoice, decimal.Zero))
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	invoice, err := h.store.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if invoice == nil {
		h.writeError(w, &ledger.NotFoundError{Entity: "invoice", ID: id})
		return
	}
	allocs, err := h.store.AllocationsByInvoice(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toInvoiceDTO(*invoice, billing.SumAllocations(allocs)))
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	policy, err := billing.ParseRemainderPolicy(req.RemainderPolicy)
	if err != nil {
		h.writeError(w, err)
		return
	}

	input := billing.CreatePaymentInput{
		CustomerID:      ledger.CustomerID(req.CustomerID),
		Amount:          req.Amount,
		Method:          req.Method,
		ReferenceNumber: req.ReferenceNumber,
		Notes:           req.Notes,
		InvoiceIDs:      req.InvoiceIDs,
		Remainder:       policy,
	}
	if req.PaymentDate != nil {
		input.PaymentDate = *req.PaymentDate
	}

	result, err := h.payments.CreatePayment(r.Context(), input)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.metrics.PaymentsTotal.Inc()
	h.metrics.AllocationsTotal.Add(float64(len(result.Allocations)))
	h.writeJSON(w, http.StatusCreated, toPaymentDTO(result))
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	payment, err := h.store.GetPayment(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if payment == nil {
		h.writeError(w, &ledger.NotFoundError{Entity: "payment", ID: id})
		return
	}
	allocs, err := h.store.AllocationsByPayment(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPaymentDTO(&billing.PaymentResult{
		Payment:     *payment,
		Allocations: allocs,
		OnAccount:   payment.Amount.Sub(billing.SumAllocations(allocs)),
	}))
}

func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.refunds.Refund(r.Context(), billing.RefundInput{
		PaymentID: chi.URLParam(r, "id"),
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.metrics.RefundsTotal.Inc()
	h.writeJSON(w, http.StatusCreated, refundDTO{
		PaymentID:     result.Payment.ID,
		Refunded:      result.Refunded,
		Remaining:     result.Remaining,
		TransactionID: string(result.TransactionID),
	})
}

// =============================================================================
// LEDGER
// =============================================================================

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.aggregator.Summarize(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}
