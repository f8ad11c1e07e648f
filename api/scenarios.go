/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Pre-built scenarios that populate the store with realistic data. Each
  scenario creates customers, invoices and payments that demonstrate a
  specific behavior of the allocation engine.

AVAILABLE SCENARIOS:
  small-shop:   Two invoices, one payment that covers the oldest fully
                and the newer one partially
  overpayment:  Payment larger than all open invoices; remainder stays
                on account as customer credit
  refund-cycle: Payment fully allocated, then partially refunded

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "small-shop"}

NOTE:
  Scenario entities use fixed IDs, so load each scenario at most once
  per database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tally/billing-engine/billing"
	"github.com/tally/billing-engine/ledger"
)

var scenarios = []scenarioDTO{
	{
		ID:          "small-shop",
		Name:        "Small Shop",
		Description: "One payment paying the oldest invoice in full and the next one partially",
	},
	{
		ID:          "overpayment",
		Name:        "Overpayment",
		Description: "Payment exceeds everything owed; the remainder becomes customer credit",
	},
	{
		ID:          "refund-cycle",
		Name:        "Refund Cycle",
		Description: "Fully allocated payment followed by a partial refund",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			h.writeJSON(w, http.StatusOK, s)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, nil)
}

// LoadScenario populates the store with one scenario's data.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req loadScenarioRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "small-shop":
		err = h.loadSmallShop(r.Context())
	case "overpayment":
		err = h.loadOverpayment(r.Context())
	case "refund-cycle":
		err = h.loadRefundCycle(r.Context())
	default:
		err = &ledger.ValidationError{Field: "scenario_id", Message: "unknown scenario " + req.ScenarioID}
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.scenarioMu.Lock()
	h.currentScenario = req.ScenarioID
	h.scenarioMu.Unlock()

	h.writeJSON(w, http.StatusOK, map[string]string{"loaded": req.ScenarioID})
}

// seedCustomer creates a customer plus the invoices, appending the
// matching receivable debits.
func (h *Handler) seedCustomer(ctx context.Context, customer billing.Customer, invoices []billing.Invoice) error {
	return h.store.WithTx(ctx, func(s billing.Store) error {
		if err := s.SaveCustomer(ctx, customer); err != nil {
			return err
		}
		for _, inv := range invoices {
			if err := s.SaveInvoice(ctx, inv); err != nil {
				return err
			}
			_, err := ledger.New(s).Apply(ctx, ledger.Transaction{
				CustomerID:  inv.CustomerID,
				Amount:      inv.TotalDue(),
				Type:        ledger.TxDebit,
				Description: "invoice " + inv.ID,
				Reference:   ledger.Reference{Kind: ledger.RefInvoice, ID: inv.ID},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func demoInvoice(id string, customerID ledger.CustomerID, amount, tax string, daysAgo int) billing.Invoice {
	return billing.Invoice{
		ID:         id,
		CustomerID: customerID,
		Amount:     decimal.RequireFromString(amount),
		Tax:        decimal.RequireFromString(tax),
		Status:     billing.InvoiceSent,
		IssuedAt:   time.Now().UTC().AddDate(0, 0, -daysAgo),
	}
}

func (h *Handler) loadSmallShop(ctx context.Context) error {
	const customerID = "demo-smallshop"
	err := h.seedCustomer(ctx,
		billing.Customer{ID: customerID, Name: "Hazel's Hardware", Email: "hazel@example.com"},
		[]billing.Invoice{
			demoInvoice("demo-ss-inv-1", customerID, "600.00", "0.00", 40),
			demoInvoice("demo-ss-inv-2", customerID, "400.00", "0.00", 10),
		})
	if err != nil {
		return err
	}

	// 700 pays the older 600 in full and 100 of the newer 400.
	_, err = h.payments.CreatePayment(ctx, billing.CreatePaymentInput{
		CustomerID: customerID,
		Amount:     decimal.RequireFromString("700.00"),
		Method:     "bank_transfer",
		Notes:      "demo payment",
	})
	return err
}

func (h *Handler) loadOverpayment(ctx context.Context) error {
	const customerID = "demo-overpay"
	err := h.seedCustomer(ctx,
		billing.Customer{ID: customerID, Name: "Moss & Fern Florists", Email: "moss@example.com"},
		[]billing.Invoice{
			demoInvoice("demo-op-inv-1", customerID, "250.00", "12.50", 20),
		})
	if err != nil {
		return err
	}

	// 400 against 262.50 owed leaves 137.50 on account.
	_, err = h.payments.CreatePayment(ctx, billing.CreatePaymentInput{
		CustomerID: customerID,
		Amount:     decimal.RequireFromString("400.00"),
		Method:     "card",
	})
	return err
}

func (h *Handler) loadRefundCycle(ctx context.Context) error {
	const customerID = "demo-refund"
	err := h.seedCustomer(ctx,
		billing.Customer{ID: customerID, Name: "Quarry Lane Bikes", Email: "quarry@example.com"},
		[]billing.Invoice{
			demoInvoice("demo-rf-inv-1", customerID, "150.00", "0.00", 15),
		})
	if err != nil {
		return err
	}

	result, err := h.payments.CreatePayment(ctx, billing.CreatePaymentInput{
		CustomerID: customerID,
		Amount:     decimal.RequireFromString("150.00"),
		Method:     "card",
	})
	if err != nil {
		return err
	}

	refund := decimal.RequireFromString("50.00")
	if _, err := h.refunds.Refund(ctx, billing.RefundInput{
		PaymentID: result.Payment.ID,
		Amount:    &refund,
		Reason:    "returned part of the order",
	}); err != nil {
		return fmt.Errorf("refund step: %w", err)
	}
	return nil
}
