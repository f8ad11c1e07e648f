/*
Package memory provides the in-memory store, used by tests and dev.

TRANSACTIONS:
  WithTx takes the store-wide write lock for the whole unit, so units
  are strictly serialized, then runs fn against a view sharing the same
  state. On error the pre-unit snapshot is restored, so a failed unit
  leaves nothing observable behind.

CONFLICTS:
  Even under serialized units the conflict checks (invoice version,
  per-invoice allocation cap) are enforced, so processor retry paths
  behave the same as against the SQL stores.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tally/billing-engine/billing"
	"github.com/tally/billing-engine/ledger"
)

type Store struct {
	mu sync.RWMutex

	transactions map[ledger.CustomerID][]ledger.Transaction
	accounts     map[ledger.CustomerID]ledger.Account
	customers    map[string]billing.Customer
	invoices     map[string]billing.Invoice
	payments     map[string]billing.Payment
	allocations  []billing.Allocation
}

func New() *Store {
	return &Store{
		transactions: make(map[ledger.CustomerID][]ledger.Transaction),
		accounts:     make(map[ledger.CustomerID]ledger.Account),
		customers:    make(map[string]billing.Customer),
		invoices:     make(map[string]billing.Invoice),
		payments:     make(map[string]billing.Payment),
	}
}

// Compile-time interface checks.
var (
	_ ledger.Store    = (*Store)(nil)
	_ billing.TxStore = (*Store)(nil)
)

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Store) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Store) appendLocked(tx ledger.Transaction) error {
	txs := m.transactions[tx.CustomerID]

	// Insert in audit order (CreatedAt, then ID).
	i := sort.Search(len(txs), func(i int) bool {
		if !txs[i].CreatedAt.Equal(tx.CreatedAt) {
			return txs[i].CreatedAt.After(tx.CreatedAt)
		}
		return txs[i].ID > tx.ID
	})
	txs = append(txs, ledger.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.CustomerID] = txs

	account, ok := m.accounts[tx.CustomerID]
	if !ok {
		account = ledger.ZeroAccount(tx.CustomerID)
	}
	m.accounts[tx.CustomerID] = account.ApplyTransaction(tx)
	return nil
}

func (m *Store) Load(_ context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(customerID), nil
}

func (m *Store) loadLocked(customerID ledger.CustomerID) []ledger.Transaction {
	result := make([]ledger.Transaction, len(m.transactions[customerID]))
	copy(result, m.transactions[customerID])
	return result
}

func (m *Store) Account(_ context.Context, customerID ledger.CustomerID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountLocked(customerID), nil
}

func (m *Store) accountLocked(customerID ledger.CustomerID) ledger.Account {
	if account, ok := m.accounts[customerID]; ok {
		return account
	}
	return ledger.ZeroAccount(customerID)
}

func (m *Store) Accounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountsLocked(), nil
}

func (m *Store) accountsLocked() []ledger.Account {
	result := make([]ledger.Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CustomerID < result[j].CustomerID })
	return result
}

func (m *Store) SeedAccount(_ context.Context, account ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seedAccountLocked(account)
}

func (m *Store) seedAccountLocked(account ledger.Account) error {
	if _, exists := m.accounts[account.CustomerID]; exists {
		return &ledger.ValidationError{Field: "customer_id", Message: "account already exists"}
	}
	account.CurrentBalance = account.OpeningBalance
	m.accounts[account.CustomerID] = account
	return nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (m *Store) SaveCustomer(_ context.Context, c billing.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
	return nil
}

func (m *Store) GetCustomer(_ context.Context, id string) (*billing.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.customers[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *Store) ListCustomers(_ context.Context) ([]billing.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]billing.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (m *Store) SaveInvoice(_ context.Context, inv billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = inv
	return nil
}

func (m *Store) GetInvoice(_ context.Context, id string) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInvoiceLocked(id), nil
}

func (m *Store) getInvoiceLocked(id string) *billing.Invoice {
	if inv, ok := m.invoices[id]; ok {
		return &inv
	}
	return nil
}

func (m *Store) ListOpenInvoices(_ context.Context, customerID ledger.CustomerID) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listOpenInvoicesLocked(customerID), nil
}

func (m *Store) listOpenInvoicesLocked(customerID ledger.CustomerID) []billing.Invoice {
	var result []billing.Invoice
	for _, inv := range m.invoices {
		if inv.CustomerID == customerID && inv.Open() {
			result = append(result, inv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].IssuedAt.Equal(result[j].IssuedAt) {
			return result[i].IssuedAt.Before(result[j].IssuedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Store) UpdateInvoiceStatus(_ context.Context, invoiceID string, status billing.InvoiceStatus, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateInvoiceStatusLocked(invoiceID, status, expectedVersion)
}

func (m *Store) updateInvoiceStatusLocked(invoiceID string, status billing.InvoiceStatus, expectedVersion int) error {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return &ledger.NotFoundError{Entity: "invoice", ID: invoiceID}
	}
	if inv.Version != expectedVersion {
		return fmt.Errorf("%w: invoice %s version %d, expected %d",
			ledger.ErrConflict, invoiceID, inv.Version, expectedVersion)
	}
	inv.Status = status
	inv.Version++
	m.invoices[invoiceID] = inv
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Store) SavePayment(_ context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

func (m *Store) GetPayment(_ context.Context, id string) (*billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPaymentLocked(id), nil
}

func (m *Store) getPaymentLocked(id string) *billing.Payment {
	if p, ok := m.payments[id]; ok {
		return &p
	}
	return nil
}

func (m *Store) UpdatePaymentRefundedAmount(_ context.Context, paymentID string, refunded decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRefundedLocked(paymentID, refunded)
}

func (m *Store) updateRefundedLocked(paymentID string, refunded decimal.Decimal) error {
	p, ok := m.payments[paymentID]
	if !ok {
		return &ledger.NotFoundError{Entity: "payment", ID: paymentID}
	}
	p.RefundedAmount = refunded
	m.payments[paymentID] = p
	return nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func (m *Store) SaveAllocation(_ context.Context, a billing.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAllocationLocked(a)
}

func (m *Store) saveAllocationLocked(a billing.Allocation) error {
	inv := m.getInvoiceLocked(a.InvoiceID)
	if inv == nil {
		return &ledger.NotFoundError{Entity: "invoice", ID: a.InvoiceID}
	}

	allocated := billing.SumAllocations(m.allocationsByInvoiceLocked(a.InvoiceID))
	outstanding := inv.TotalDue().Sub(allocated)
	if a.Amount.GreaterThan(outstanding) {
		return &billing.OverAllocationError{
			InvoiceID:   a.InvoiceID,
			Outstanding: outstanding,
			Requested:   a.Amount,
		}
	}

	m.allocations = append(m.allocations, a)
	return nil
}

func (m *Store) AllocationsByPayment(_ context.Context, paymentID string) ([]billing.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocationsByPaymentLocked(paymentID), nil
}

func (m *Store) allocationsByPaymentLocked(paymentID string) []billing.Allocation {
	var result []billing.Allocation
	for _, a := range m.allocations {
		if a.PaymentID == paymentID {
			result = append(result, a)
		}
	}
	return result
}

func (m *Store) AllocationsByInvoice(_ context.Context, invoiceID string) ([]billing.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocationsByInvoiceLocked(invoiceID), nil
}

func (m *Store) allocationsByInvoiceLocked(invoiceID string) []billing.Allocation {
	var result []billing.Allocation
	for _, a := range m.allocations {
		if a.InvoiceID == invoiceID {
			result = append(result, a)
		}
	}
	return result
}

// =============================================================================
// TRANSACTION BOUNDARY
// =============================================================================

// WithTx serializes units on the store-wide lock and restores the
// pre-unit snapshot when fn fails.
func (m *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotLocked()
	if err := fn(&txView{parent: m}); err != nil {
		m.restoreLocked(snapshot)
		return err
	}
	return nil
}

type storeSnapshot struct {
	transactions map[ledger.CustomerID][]ledger.Transaction
	accounts     map[ledger.CustomerID]ledger.Account
	customers    map[string]billing.Customer
	invoices     map[string]billing.Invoice
	payments     map[string]billing.Payment
	allocations  []billing.Allocation
}

func (m *Store) snapshotLocked() storeSnapshot {
	s := storeSnapshot{
		transactions: make(map[ledger.CustomerID][]ledger.Transaction, len(m.transactions)),
		accounts:     make(map[ledger.CustomerID]ledger.Account, len(m.accounts)),
		customers:    make(map[string]billing.Customer, len(m.customers)),
		invoices:     make(map[string]billing.Invoice, len(m.invoices)),
		payments:     make(map[string]billing.Payment, len(m.payments)),
		allocations:  append([]billing.Allocation(nil), m.allocations...),
	}
	for k, v := range m.transactions {
		s.transactions[k] = append([]ledger.Transaction(nil), v...)
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.customers {
		s.customers[k] = v
	}
	for k, v := range m.invoices {
		s.invoices[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	return s
}

func (m *Store) restoreLocked(s storeSnapshot) {
	m.transactions = s.transactions
	m.accounts = s.accounts
	m.customers = s.customers
	m.invoices = s.invoices
	m.payments = s.payments
	m.allocations = s.allocations
}

// txView runs store operations against an already-locked parent.
type txView struct {
	parent *Store
}

var _ billing.Store = (*txView)(nil)

func (v *txView) Append(_ context.Context, tx ledger.Transaction) error {
	return v.parent.appendLocked(tx)
}

func (v *txView) Load(_ context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	return v.parent.loadLocked(customerID), nil
}

func (v *txView) Account(_ context.Context, customerID ledger.CustomerID) (ledger.Account, error) {
	return v.parent.accountLocked(customerID), nil
}

func (v *txView) Accounts(_ context.Context) ([]ledger.Account, error) {
	return v.parent.accountsLocked(), nil
}

func (v *txView) SeedAccount(_ context.Context, account ledger.Account) error {
	return v.parent.seedAccountLocked(account)
}

func (v *txView) SaveCustomer(_ context.Context, c billing.Customer) error {
	v.parent.customers[c.ID] = c
	return nil
}

func (v *txView) GetCustomer(_ context.Context, id string) (*billing.Customer, error) {
	if c, ok := v.parent.customers[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (v *txView) ListCustomers(_ context.Context) ([]billing.Customer, error) {
	var result []billing.Customer
	for _, c := range v.parent.customers {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (v *txView) SaveInvoice(_ context.Context, inv billing.Invoice) error {
	v.parent.invoices[inv.ID] = inv
	return nil
}

func (v *txView) GetInvoice(_ context.Context, id string) (*billing.Invoice, error) {
	return v.parent.getInvoiceLocked(id), nil
}

func (v *txView) ListOpenInvoices(_ context.Context, customerID ledger.CustomerID) ([]billing.Invoice, error) {
	return v.parent.listOpenInvoicesLocked(customerID), nil
}

func (v *txView) UpdateInvoiceStatus(_ context.Context, invoiceID string, status billing.InvoiceStatus, expectedVersion int) error {
	return v.parent.updateInvoiceStatusLocked(invoiceID, status, expectedVersion)
}

func (v *txView) SavePayment(_ context.Context, p billing.Payment) error {
	v.parent.payments[p.ID] = p
	return nil
}

func (v *txView) GetPayment(_ context.Context, id string) (*billing.Payment, error) {
	return v.parent.getPaymentLocked(id), nil
}

func (v *txView) UpdatePaymentRefundedAmount(_ context.Context, paymentID string, refunded decimal.Decimal) error {
	return v.parent.updateRefundedLocked(paymentID, refunded)
}

func (v *txView) SaveAllocation(_ context.Context, a billing.Allocation) error {
	return v.parent.saveAllocationLocked(a)
}

func (v *txView) AllocationsByPayment(_ context.Context, paymentID string) ([]billing.Allocation, error) {
	return v.parent.allocationsByPaymentLocked(paymentID), nil
}

func (v *txView) AllocationsByInvoice(_ context.Context, invoiceID string) ([]billing.Allocation, error) {
	return v.parent.allocationsByInvoiceLocked(invoiceID), nil
}
