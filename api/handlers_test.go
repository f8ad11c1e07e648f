/*
handlers_test.go - HTTP surface tests

Exercises the full request path (router, middleware, handlers, domain
logic) against the in-memory store, including the status-code mapping
of the error taxonomy.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally/billing-engine/api"
	"github.com/tally/billing-engine/billing"
	"github.com/tally/billing-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New()
	payments := billing.NewProcessor(store, nil, nil)
	refunds := billing.NewRefundProcessor(store, nil, nil)
	handler := api.NewHandler(store, payments, refunds, nil)

	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// assertAmount compares wire amounts as decimals; "150" and "150.00"
// are the same money.
func assertAmount(t *testing.T, expected string, got any) {
	t.Helper()
	s, ok := got.(string)
	require.True(t, ok, "amount %v is not a string", got)
	want := decimal.RequireFromString(expected)
	assert.True(t, want.Equal(decimal.RequireFromString(s)), "expected %s, got %s", expected, s)
}

func createCustomer(t *testing.T, server *httptest.Server, id string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/customers", map[string]any{
		"id":   id,
		"name": "Test Customer " + id,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func createInvoice(t *testing.T, server *httptest.Server, id, customer, amount, tax string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/invoices", map[string]any{
		"id":          id,
		"customer_id": customer,
		"amount":      amount,
		"tax":         tax,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// CUSTOMERS AND BALANCES
// =============================================================================

func TestAPI_CreateCustomer_WithOpeningBalance(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/customers", map[string]any{
		"id":              "cust-1",
		"name":            "Hazel's Hardware",
		"opening_balance": "150.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, balance := doJSON(t, http.MethodGet, server.URL+"/api/customers/cust-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assertAmount(t, "150.00", balance["current_balance"])
	assert.Equal(t, true, balance["receivable"])
}

func TestAPI_CreateCustomer_MissingName_400(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/customers", map[string]any{
		"id": "cust-1",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "name", body["field"])
}

func TestAPI_GetCustomer_Unknown_404(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/customers/ghost", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_GetBalance_UnknownCustomer_ImplicitZero(t *testing.T) {
	// Balance reads never 404; unknown customers have a zero account.
	server := newTestServer(t)

	resp, balance := doJSON(t, http.MethodGet, server.URL+"/api/customers/ghost/balance", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assertAmount(t, "0", balance["current_balance"])
}

// =============================================================================
// INVOICES
// =============================================================================

func TestAPI_CreateInvoice_RaisesBalance(t *testing.T) {
	// The invoice debit and the invoice row commit together.
	server := newTestServer(t)
	createCustomer(t, server, "cust-1")

	createInvoice(t, server, "inv-1", "cust-1", "100.00", "8.00")

	resp, balance := doJSON(t, http.MethodGet, server.URL+"/api/customers/cust-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assertAmount(t, "108.00", balance["current_balance"])
}

func TestAPI_CreateInvoice_Validation_400(t *testing.T) {
	server := newTestServer(t)

	for name, body := range map[string]map[string]any{
		"missing customer": {"amount": "10.00", "tax": "0"},
		"zero amount":      {"customer_id": "cust-1", "amount": "0", "tax": "0"},
		"negative tax":     {"customer_id": "cust-1", "amount": "10.00", "tax": "-1"},
		"bad status":       {"customer_id": "cust-1", "amount": "10.00", "tax": "0", "status": "void"},
	} {
		resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/invoices", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestAPI_PaymentFlow(t *testing.T) {
	// GIVEN: Two open invoices worth 600 and 400
	// WHEN: Posting a 700 payment
	// THEN: Oldest paid in full, newer partially; balance reflects both
	//       the debits and the credit

	server := newTestServer(t)
	createCustomer(t, server, "cust-1")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/invoices", map[string]any{
		"id": "inv-old", "customer_id": "cust-1",
		"amount": "600.00", "tax": "0",
		"issued_at": "2026-07-01T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/invoices", map[string]any{
		"id": "inv-new", "customer_id": "cust-1",
		"amount": "400.00", "tax": "0",
		"issued_at": "2026-08-15T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, payment := doJSON(t, http.MethodPost, server.URL+"/api/payments", map[string]any{
		"customer_id": "cust-1",
		"amount":      "700.00",
		"method":      "bank_transfer",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	allocations := payment["allocations"].([]any)
	require.Len(t, allocations, 2)
	first := allocations[0].(map[string]any)
	assert.Equal(t, "inv-old", first["invoice_id"], "oldest invoice first")
	assertAmount(t, "600.00", first["amount"])
	assertAmount(t, "0", payment["on_account"])

	resp, invoice := doJSON(t, http.MethodGet, server.URL+"/api/invoices/inv-old", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", invoice["status"])
	assertAmount(t, "0", invoice["outstanding"])

	// 1000 invoiced, 700 paid.
	resp, balance := doJSON(t, http.MethodGet, server.URL+"/api/customers/cust-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assertAmount(t, "300.00", balance["current_balance"])
}

func TestAPI_Payment_UnknownInvoice_404(t *testing.T) {
	server := newTestServer(t)
	createCustomer(t, server, "cust-1")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/payments", map[string]any{
		"customer_id": "cust-1",
		"amount":      "100.00",
		"invoice_ids": []string{"inv-ghost"},
	})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Payment_RejectPolicyOverpay_400(t *testing.T) {
	server := newTestServer(t)
	createCustomer(t, server, "cust-1")
	createInvoice(t, server, "inv-1", "cust-1", "100.00", "0")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/payments", map[string]any{
		"customer_id":      "cust-1",
		"amount":           "150.00",
		"remainder_policy": "reject",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// REFUNDS
// =============================================================================

func TestAPI_RefundFlow(t *testing.T) {
	server := newTestServer(t)
	createCustomer(t, server, "cust-1")

	resp, payment := doJSON(t, http.MethodPost, server.URL+"/api/payments", map[string]any{
		"customer_id": "cust-1",
		"amount":      "200.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	paymentID := payment["id"].(string)

	refundURL := fmt.Sprintf("%s/api/payments/%s/refund", server.URL, paymentID)
	resp, refund := doJSON(t, http.MethodPost, refundURL, map[string]any{
		"amount": "80.00",
		"reason": "damaged goods",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assertAmount(t, "80.00", refund["refunded"])
	assertAmount(t, "120.00", refund["remaining_refundable"])

	// Over-refund of the remainder is a 400.
	resp, _ = doJSON(t, http.MethodPost, refundURL, map[string]any{"amount": "150.00"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Refund_UnknownPayment_404(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/payments/ghost/refund", map[string]any{})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// SUMMARY, AUDIT, SCENARIOS
// =============================================================================

func TestAPI_LedgerSummary(t *testing.T) {
	server := newTestServer(t)
	createCustomer(t, server, "cust-owes")
	createInvoice(t, server, "inv-1", "cust-owes", "100.00", "0")

	createCustomer(t, server, "cust-credit")
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/payments", map[string]any{
		"customer_id": "cust-credit",
		"amount":      "40.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, summary := doJSON(t, http.MethodGet, server.URL+"/api/ledger/summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, summary["total_customers"])
	assert.EqualValues(t, 1, summary["with_receivable"])
	assert.EqualValues(t, 1, summary["with_payable"])
	assertAmount(t, "60.00", summary["net_position"])
}

func TestAPI_AuditBalance_Consistent(t *testing.T) {
	server := newTestServer(t)
	createCustomer(t, server, "cust-1")
	createInvoice(t, server, "inv-1", "cust-1", "50.00", "0")

	resp, audit := doJSON(t, http.MethodGet, server.URL+"/api/customers/cust-1/audit", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, audit["consistent"])
	assertAmount(t, "50.00", audit["balance"])
}

func TestAPI_LoadScenario(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/scenarios/load", map[string]any{
		"scenario_id": "small-shop",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, balance := doJSON(t, http.MethodGet, server.URL+"/api/customers/demo-smallshop/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	// 1000 invoiced, 700 paid.
	assertAmount(t, "300.00", balance["current_balance"])

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/scenarios/load", map[string]any{
		"scenario_id": "does-not-exist",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ScenarioEndpoints_ConcurrentLoadAndRead(t *testing.T) {
	// Loads and current-scenario reads arrive on separate connections;
	// they must not trip over each other.
	server := newTestServer(t)

	var wg sync.WaitGroup
	for _, id := range []string{"small-shop", "overpayment", "refund-cycle"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			body, _ := json.Marshal(map[string]string{"scenario_id": id})
			resp, err := http.Post(server.URL+"/api/scenarios/load", "application/json", bytes.NewReader(body))
			if err == nil {
				resp.Body.Close()
			}
		}(id)
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(server.URL + "/api/scenarios/current")
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	resp, current := doJSON(t, http.MethodGet, server.URL+"/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, current)
	assert.Contains(t, []any{"small-shop", "overpayment", "refund-cycle"}, current["id"])
}

func TestAPI_Healthz(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
