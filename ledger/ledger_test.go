package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally/billing-engine/ledger"
	"github.com/tally/billing-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() *ledger.Ledger {
	return ledger.New(memory.New())
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func debit(customer, amount string) ledger.Transaction {
	return ledger.Transaction{
		CustomerID: ledger.CustomerID(customer),
		Amount:     d(amount),
		Type:       ledger.TxDebit,
	}
}

func credit(customer, amount string) ledger.Transaction {
	return ledger.Transaction{
		CustomerID: ledger.CustomerID(customer),
		Amount:     d(amount),
		Type:       ledger.TxCredit,
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestLedger_Apply_EmptyCustomer_Rejected(t *testing.T) {
	// GIVEN: A transaction with no customer id
	// WHEN: Applying it
	// THEN: ValidationError naming the field

	l := newTestLedger()
	_, err := l.Apply(context.Background(), debit("", "10"))

	require.Error(t, err)
	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "customer_id", ve.Field)
	assert.True(t, ledger.IsValidation(err))
}

func TestLedger_Apply_NonPositiveAmount_Rejected(t *testing.T) {
	// GIVEN: Zero and negative amounts
	// WHEN: Applying them
	// THEN: Both rejected; direction comes from Type, never the sign

	l := newTestLedger()

	for _, amount := range []string{"0", "-5.00"} {
		tx := debit("cust-1", "10")
		tx.Amount = d(amount)
		_, err := l.Apply(context.Background(), tx)
		assert.True(t, ledger.IsValidation(err), "amount %s should be rejected", amount)
	}
}

func TestLedger_Apply_UnknownType_Rejected(t *testing.T) {
	l := newTestLedger()

	tx := debit("cust-1", "10")
	tx.Type = ledger.TransactionType("transfer")
	_, err := l.Apply(context.Background(), tx)

	assert.True(t, ledger.IsValidation(err))
}

func TestLedger_Apply_FillsIDAndTimestamp(t *testing.T) {
	l := newTestLedger()

	tx, err := l.Apply(context.Background(), debit("cust-1", "10"))

	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
	assert.False(t, tx.CreatedAt.IsZero())
}

// =============================================================================
// BALANCES
// =============================================================================

func TestLedger_Balance_DebitsRaise_CreditsLower(t *testing.T) {
	// GIVEN: An invoice debit of 100 and a payment credit of 40
	// WHEN: Reading the balance
	// THEN: 60 receivable

	l := newTestLedger()
	ctx := context.Background()

	_, err := l.Apply(ctx, debit("cust-1", "100.00"))
	require.NoError(t, err)
	_, err = l.Apply(ctx, credit("cust-1", "40.00"))
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("60.00")), "got %s", balance)
}

func TestLedger_Balance_UnknownCustomer_ImplicitZero(t *testing.T) {
	// GIVEN: A customer that never transacted
	// WHEN: Reading the balance
	// THEN: Zero, not an error

	l := newTestLedger()

	balance, err := l.Balance(context.Background(), "nobody")

	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestLedger_Balance_CanGoNegative(t *testing.T) {
	// Overpayment leaves the business owing the customer.
	l := newTestLedger()
	ctx := context.Background()

	_, err := l.Apply(ctx, credit("cust-1", "25.00"))
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("-25.00")))
}

// =============================================================================
// HISTORY AND REPLAY
// =============================================================================

func TestLedger_History_AuditOrder(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Apply(ctx, debit("cust-1", "1.00"))
		require.NoError(t, err)
	}

	txs, err := l.History(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, txs, 5)
	for i := 1; i < len(txs); i++ {
		prev, cur := txs[i-1], txs[i]
		ordered := prev.CreatedAt.Before(cur.CreatedAt) ||
			(prev.CreatedAt.Equal(cur.CreatedAt) && prev.ID < cur.ID)
		assert.True(t, ordered, "transactions out of audit order at %d", i)
	}
}

func TestLedger_VerifyBalance_ConsistentAfterWrites(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	_, err := l.Apply(ctx, debit("cust-1", "100.00"))
	require.NoError(t, err)
	_, err = l.Apply(ctx, credit("cust-1", "30.00"))
	require.NoError(t, err)

	balance, err := l.VerifyBalance(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("70.00")))
}

func TestLedger_VerifyBalance_ConcurrentAppends(t *testing.T) {
	// GIVEN: Many goroutines appending to the same customer
	// WHEN: All appends finish
	// THEN: Projection equals a full replay; no lost updates

	l := newTestLedger()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := debit("cust-1", "1.00")
			if i%2 == 0 {
				tx = credit("cust-1", "1.00")
			}
			_, err := l.Apply(ctx, tx)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	balance, err := l.VerifyBalance(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "10 debits and 10 credits of 1.00 must cancel, got %s", balance)
}

func TestReplay_PureFold(t *testing.T) {
	txs := []ledger.Transaction{
		debit("cust-1", "100.00"),
		credit("cust-1", "40.00"),
		debit("cust-1", "12.50"),
	}

	replayed := ledger.Replay(d("10.00"), txs)

	assert.True(t, replayed.Equal(d("82.50")), "got %s", replayed)
}

func TestReplay_NeverFloats(t *testing.T) {
	// The classic 0.1+0.2 case must come out exact.
	txs := []ledger.Transaction{
		debit("cust-1", "0.1"),
		debit("cust-1", "0.2"),
	}

	replayed := ledger.Replay(decimal.Zero, txs)

	assert.True(t, replayed.Equal(d("0.3")), "got %s", replayed)
}

// =============================================================================
// REFERENCES
// =============================================================================

func TestLedger_Apply_PreservesReference(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	tx := credit("cust-1", "50.00")
	tx.Reference = ledger.Reference{Kind: ledger.RefPayment, ID: "pay-1"}
	_, err := l.Apply(ctx, tx)
	require.NoError(t, err)

	txs, err := l.History(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.RefPayment, txs[0].Reference.Kind)
	assert.Equal(t, "pay-1", txs[0].Reference.ID)
}

func TestLedger_ManyCustomers_Isolated(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		customer := fmt.Sprintf("cust-%d", i)
		_, err := l.Apply(ctx, debit(customer, fmt.Sprintf("%d.00", (i+1)*10)))
		require.NoError(t, err)
	}

	balance, err := l.Balance(ctx, "cust-2")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("30.00")))
}
