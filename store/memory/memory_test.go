package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally/billing-engine/billing"
	"github.com/tally/billing-engine/ledger"
	"github.com/tally/billing-engine/store/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMemory_WithTx_RestoresSnapshotOnError(t *testing.T) {
	// GIVEN: Existing state plus a unit that writes then fails
	// WHEN: The unit returns an error
	// THEN: Every table is back to its pre-unit state

	store := memory.New()
	ctx := context.Background()
	boom := errors.New("boom")

	require.NoError(t, store.SaveCustomer(ctx, billing.Customer{ID: "cust-1", Name: "Kept"}))

	err := store.WithTx(ctx, func(s billing.Store) error {
		if err := s.SaveCustomer(ctx, billing.Customer{ID: "cust-2", Name: "Discarded"}); err != nil {
			return err
		}
		if err := s.Append(ctx, ledger.Transaction{
			ID:         ledger.NewTransactionID(),
			CustomerID: "cust-1",
			Amount:     d("10.00"),
			Type:       ledger.TxDebit,
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	kept, err := store.GetCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	discarded, err := store.GetCustomer(ctx, "cust-2")
	require.NoError(t, err)
	assert.Nil(t, discarded)

	account, err := store.Account(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, account.CurrentBalance.IsZero())
}

func TestMemory_WithTx_ReadsSeeOwnWrites(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	err := store.WithTx(ctx, func(s billing.Store) error {
		if err := s.SaveInvoice(ctx, billing.Invoice{
			ID: "inv-1", CustomerID: "cust-1",
			Amount: d("50.00"), Status: billing.InvoiceSent,
			IssuedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		inv, err := s.GetInvoice(ctx, "inv-1")
		if err != nil {
			return err
		}
		require.NotNil(t, inv, "write must be visible inside the unit")
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_VersionConflictSurvivesInsideUnit(t *testing.T) {
	// The optimistic version check fires inside WithTx too, which is
	// what drives the processors' retry loop.
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.SaveInvoice(ctx, billing.Invoice{
		ID: "inv-1", CustomerID: "cust-1",
		Amount: d("50.00"), Status: billing.InvoiceSent,
		IssuedAt: time.Now().UTC(),
	}))

	err := store.WithTx(ctx, func(s billing.Store) error {
		return s.UpdateInvoiceStatus(ctx, "inv-1", billing.InvoicePaid, 7)
	})
	assert.True(t, errors.Is(err, ledger.ErrConflict))
	assert.True(t, ledger.IsRetryable(err))
}
