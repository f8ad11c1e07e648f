package billing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally/billing-engine/billing"
	"github.com/tally/billing-engine/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func candidate(id string, outstanding string, issuedDaysAgo int) billing.Candidate {
	return billing.Candidate{
		Invoice: billing.Invoice{
			ID:         id,
			CustomerID: "cust-1",
			Amount:     d(outstanding),
			Status:     billing.InvoiceSent,
			IssuedAt:   time.Now().UTC().AddDate(0, 0, -issuedDaysAgo),
		},
		Outstanding: d(outstanding),
	}
}

func onAccount() *billing.Engine { return billing.NewEngine(billing.RemainderOnAccount) }

// =============================================================================
// OLDEST-FIRST SPLITTING
// =============================================================================

func TestAllocate_PaysBothInvoicesInFull(t *testing.T) {
	// GIVEN: Invoices of 600 (old) and 400 (new), payment of 1000
	// WHEN: Allocating
	// THEN: Both satisfied, nothing left over

	plan, err := onAccount().Allocate(d("1000.00"), []billing.Candidate{
		candidate("inv-new", "400.00", 5),
		candidate("inv-old", "600.00", 30),
	})

	require.NoError(t, err)
	require.Len(t, plan.Lines, 2)
	assert.Equal(t, "inv-old", plan.Lines[0].InvoiceID, "oldest invoice first")
	assert.Equal(t, "inv-new", plan.Lines[1].InvoiceID)
	assert.True(t, plan.Lines[0].Satisfied())
	assert.True(t, plan.Lines[1].Satisfied())
	assert.True(t, plan.Remainder.IsZero())
	assert.True(t, plan.TotalAllocated.Equal(d("1000.00")))
}

func TestAllocate_PartialOnSecondInvoice(t *testing.T) {
	// GIVEN: Invoices of 600 and 400, payment of 700
	// WHEN: Allocating
	// THEN: 600 satisfies the oldest, 100 goes to the newer one

	plan, err := onAccount().Allocate(d("700.00"), []billing.Candidate{
		candidate("inv-old", "600.00", 30),
		candidate("inv-new", "400.00", 5),
	})

	require.NoError(t, err)
	require.Len(t, plan.Lines, 2)
	assert.True(t, plan.Lines[0].Amount.Equal(d("600.00")))
	assert.True(t, plan.Lines[0].Satisfied())
	assert.True(t, plan.Lines[1].Amount.Equal(d("100.00")))
	assert.False(t, plan.Lines[1].Satisfied())
	assert.True(t, plan.Lines[1].OutstandingAfter.Equal(d("300.00")))
	assert.True(t, plan.Remainder.IsZero())
}

func TestAllocate_StopsWhenPaymentExhausted(t *testing.T) {
	plan, err := onAccount().Allocate(d("50.00"), []billing.Candidate{
		candidate("inv-1", "60.00", 20),
		candidate("inv-2", "40.00", 10),
	})

	require.NoError(t, err)
	require.Len(t, plan.Lines, 1, "second invoice gets nothing")
	assert.True(t, plan.Lines[0].Amount.Equal(d("50.00")))
	assert.True(t, plan.Lines[0].OutstandingAfter.Equal(d("10.00")))
}

func TestAllocate_TieBreaksOnInvoiceID(t *testing.T) {
	// Same IssuedAt: deterministic order by ID.
	issued := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	a := candidate("inv-a", "10.00", 0)
	b := candidate("inv-b", "10.00", 0)
	a.Invoice.IssuedAt = issued
	b.Invoice.IssuedAt = issued

	plan, err := onAccount().Allocate(d("10.00"), []billing.Candidate{b, a})

	require.NoError(t, err)
	require.Len(t, plan.Lines, 1)
	assert.Equal(t, "inv-a", plan.Lines[0].InvoiceID)
}

func TestAllocate_SkipsZeroOutstanding(t *testing.T) {
	settled := candidate("inv-settled", "100.00", 30)
	settled.Outstanding = decimal.Zero

	plan, err := onAccount().Allocate(d("40.00"), []billing.Candidate{
		settled,
		candidate("inv-open", "40.00", 5),
	})

	require.NoError(t, err)
	require.Len(t, plan.Lines, 1)
	assert.Equal(t, "inv-open", plan.Lines[0].InvoiceID)
}

// =============================================================================
// REMAINDER POLICY
// =============================================================================

func TestAllocate_NoInvoices_FullRemainder(t *testing.T) {
	// GIVEN: No open invoices
	// WHEN: Allocating under the default policy
	// THEN: Whole payment is on-account remainder

	plan, err := onAccount().Allocate(d("120.00"), nil)

	require.NoError(t, err)
	assert.Empty(t, plan.Lines)
	assert.True(t, plan.Remainder.Equal(d("120.00")))
}

func TestAllocate_RejectPolicy_FailsOnRemainder(t *testing.T) {
	engine := billing.NewEngine(billing.RemainderReject)

	_, err := engine.Allocate(d("150.00"), []billing.Candidate{
		candidate("inv-1", "100.00", 10),
	})

	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err))
}

func TestAllocate_RejectPolicy_ExactAmountSucceeds(t *testing.T) {
	engine := billing.NewEngine(billing.RemainderReject)

	plan, err := engine.Allocate(d("100.00"), []billing.Candidate{
		candidate("inv-1", "100.00", 10),
	})

	require.NoError(t, err)
	assert.True(t, plan.Remainder.IsZero())
}

func TestAllocate_NonPositiveAmount_Rejected(t *testing.T) {
	for _, amount := range []string{"0", "-10.00"} {
		_, err := onAccount().Allocate(d(amount), []billing.Candidate{
			candidate("inv-1", "100.00", 10),
		})
		assert.True(t, ledger.IsValidation(err), "amount %s", amount)
	}
}

func TestParseRemainderPolicy(t *testing.T) {
	policy, err := billing.ParseRemainderPolicy("")
	require.NoError(t, err)
	assert.Equal(t, billing.RemainderOnAccount, policy, "empty defaults to on-account")

	policy, err = billing.ParseRemainderPolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, billing.RemainderReject, policy)

	_, err = billing.ParseRemainderPolicy("burn_it")
	assert.True(t, ledger.IsValidation(err))
}

// =============================================================================
// CONSERVATION PROPERTY
// =============================================================================

func TestAllocate_ConservesMoney(t *testing.T) {
	// allocated + remainder == payment, for a spread of amounts.
	candidates := []billing.Candidate{
		candidate("inv-1", "33.33", 30),
		candidate("inv-2", "66.67", 20),
		candidate("inv-3", "125.00", 10),
	}

	for _, amount := range []string{"10.00", "33.33", "100.00", "225.00", "500.00"} {
		plan, err := onAccount().Allocate(d(amount), candidates)
		require.NoError(t, err)

		total := plan.Remainder
		for _, line := range plan.Lines {
			total = total.Add(line.Amount)
			assert.False(t, line.Amount.GreaterThan(line.OutstandingBefore),
				"line can never exceed outstanding")
		}
		assert.True(t, total.Equal(d(amount)), "amount %s: allocated+remainder=%s", amount, total)
	}
}
