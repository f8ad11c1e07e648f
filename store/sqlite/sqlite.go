/*
Package sqlite provides the embedded SQLite store.

PURPOSE:
  Durable implementation of ledger.Store and billing.TxStore on a
  single SQLite file. The same patterns apply to the Postgres store;
  only placeholders and conflict detection differ.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements touch ledger_transactions
  - The balance projection in ledger_accounts moves only inside the
    same unit that inserts the transaction

KEY TABLES:
  ledger_transactions: immutable log of all balance changes
  ledger_accounts:     one projection row per customer
  customers, invoices, payments, payment_allocations

CONCURRENCY:
  A store-wide mutex serializes writers (SQLite allows one writer at a
  time anyway); WAL mode keeps readers unblocked. Version checks on
  invoices and the per-invoice allocation cap still surface conflicts
  so the processors' retry paths are exercised identically against
  every store.

AMOUNTS:
  Stored as decimal strings and summed in Go, never as floats.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/tally/billing-engine/billing"
	"github.com/tally/billing-engine/ledger"
)

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and matches
	// SQLite's single-writer model.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL
	);

	-- Balance projections, one row per customer.
	-- opening_balance is written once and never updated.
	CREATE TABLE IF NOT EXISTS ledger_accounts (
		customer_id TEXT PRIMARY KEY,
		opening_balance TEXT NOT NULL,
		current_balance TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only transaction log. No UPDATE. No DELETE. EVER.
	CREATE TABLE IF NOT EXISTS ledger_transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		description TEXT,
		reference_kind TEXT,
		reference_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_tx_customer
		ON ledger_transactions(customer_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_ledger_tx_reference
		ON ledger_transactions(reference_kind, reference_id)
		WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		tax TEXT NOT NULL,
		status TEXT NOT NULL,
		issued_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_customer_status
		ON invoices(customer_id, status, issued_at);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT,
		reference_number TEXT,
		payment_date TEXT NOT NULL,
		notes TEXT,
		refunded_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_customer
		ON payments(customer_id, payment_date);

	CREATE TABLE IF NOT EXISTS payment_allocations (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(payment_id, invoice_id)
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_payment
		ON payment_allocations(payment_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_invoice
		ON payment_allocations(invoice_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Compile-time interface checks.
var (
	_ ledger.Store    = (*Store)(nil)
	_ billing.TxStore = (*Store)(nil)
)

// querier abstracts *sql.DB and *sql.Tx so every operation can run
// either standalone or inside a unit.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// Append runs in its own transaction so the projection update and the
// log insert commit together even outside WithTx.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := appendTransaction(ctx, sqlTx, tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return storeErr("append transaction", err)
	}
	return nil
}

func appendTransaction(ctx context.Context, q querier, tx ledger.Transaction) error {
	account, exists, err := getAccount(ctx, q, tx.CustomerID)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	newBalance := account.CurrentBalance.Add(tx.SignedAmount()).String()
	if exists {
		_, err = q.ExecContext(ctx,
			`UPDATE ledger_accounts SET current_balance = ?, updated_at = ? WHERE customer_id = ?`,
			newBalance, now, tx.CustomerID)
	} else {
		_, err = q.ExecContext(ctx,
			`INSERT INTO ledger_accounts (customer_id, opening_balance, current_balance, created_at, updated_at)
			 VALUES (?, '0', ?, ?, ?)`,
			tx.CustomerID, newBalance, now, now)
	}
	if err != nil {
		return storeErr("update balance projection", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO ledger_transactions
		 (id, customer_id, amount, tx_type, description, reference_kind, reference_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.CustomerID, tx.Amount.String(), tx.Type,
		tx.Description, tx.Reference.Kind, nullString(tx.Reference.ID),
		tx.CreatedAt.UTC().Format(time.RFC3339Nano))
	return storeErr("append transaction", err)
}

func (s *Store) Load(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	return loadTransactions(ctx, s.db, customerID)
}

func loadTransactions(ctx context.Context, q querier, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, customer_id, amount, tx_type, description, reference_kind, reference_id, created_at
		 FROM ledger_transactions
		 WHERE customer_id = ?
		 ORDER BY created_at ASC, id ASC`,
		customerID)
	if err != nil {
		return nil, storeErr("load transactions", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var (
			tx          ledger.Transaction
			amount      string
			description sql.NullString
			refKind     sql.NullString
			refID       sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&tx.ID, &tx.CustomerID, &amount, &tx.Type,
			&description, &refKind, &refID, &createdAt); err != nil {
			return nil, storeErr("scan transaction", err)
		}
		tx.Amount = mustDecimal(amount)
		tx.Description = description.String
		tx.Reference = ledger.Reference{
			Kind: ledger.ReferenceKind(refKind.String),
			ID:   refID.String,
		}
		tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *Store) Account(ctx context.Context, customerID ledger.CustomerID) (ledger.Account, error) {
	account, _, err := getAccount(ctx, s.db, customerID)
	return account, err
}

func getAccount(ctx context.Context, q querier, customerID ledger.CustomerID) (ledger.Account, bool, error) {
	var opening, current string
	err := q.QueryRowContext(ctx,
		`SELECT opening_balance, current_balance FROM ledger_accounts WHERE customer_id = ?`,
		customerID).Scan(&opening, &current)
	if err == sql.ErrNoRows {
		return ledger.ZeroAccount(customerID), false, nil
	}
	if err != nil {
		return ledger.Account{}, false, storeErr("get account", err)
	}
	return ledger.Account{
		CustomerID:     customerID,
		OpeningBalance: mustDecimal(opening),
		CurrentBalance: mustDecimal(current),
	}, true, nil
}

func (s *Store) Accounts(ctx context.Context) ([]ledger.Account, error) {
	return listAccounts(ctx, s.db)
}

func listAccounts(ctx context.Context, q querier) ([]ledger.Account, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT customer_id, opening_balance, current_balance FROM ledger_accounts ORDER BY customer_id`)
	if err != nil {
		return nil, storeErr("list accounts", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var account ledger.Account
		var opening, current string
		if err := rows.Scan(&account.CustomerID, &opening, &current); err != nil {
			return nil, storeErr("scan account", err)
		}
		account.OpeningBalance = mustDecimal(opening)
		account.CurrentBalance = mustDecimal(current)
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (s *Store) SeedAccount(ctx context.Context, account ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return seedAccount(ctx, s.db, account)
}

func seedAccount(ctx context.Context, q querier, account ledger.Account) error {
	_, exists, err := getAccount(ctx, q, account.CustomerID)
	if err != nil {
		return err
	}
	if exists {
		return &ledger.ValidationError{Field: "customer_id", Message: "account already exists"}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = q.ExecContext(ctx,
		`INSERT INTO ledger_accounts (customer_id, opening_balance, current_balance, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		account.CustomerID, account.OpeningBalance.String(), account.OpeningBalance.String(), now, now)
	return storeErr("seed account", err)
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Store) SaveCustomer(ctx context.Context, c billing.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCustomer(ctx, s.db, c)
}

func saveCustomer(ctx context.Context, q querier, c billing.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO customers (id, name, email, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email`,
		c.ID, c.Name, c.Email, c.CreatedAt.UTC().Format(time.RFC3339Nano))
	return storeErr("save customer", err)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*billing.Customer, error) {
	return getCustomer(ctx, s.db, id)
}

func getCustomer(ctx context.Context, q querier, id string) (*billing.Customer, error) {
	var c billing.Customer
	var email sql.NullString
	var createdAt string
	err := q.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM customers WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &email, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get customer", err)
	}
	c.Email = email.String
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]billing.Customer, error) {
	return listCustomers(ctx, s.db)
}

func listCustomers(ctx context.Context, q querier) ([]billing.Customer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, email, created_at FROM customers ORDER BY id`)
	if err != nil {
		return nil, storeErr("list customers", err)
	}
	defer rows.Close()

	var customers []billing.Customer
	for rows.Next() {
		var c billing.Customer
		var email sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &email, &createdAt); err != nil {
			return nil, storeErr("scan customer", err)
		}
		c.Email = email.String
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// =============================================================================
// INVOICES
// =============================================================================

func (s *Store) SaveInvoice(ctx context.Context, inv billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveInvoice(ctx, s.db, inv)
}

func saveInvoice(ctx context.Context, q querier, inv billing.Invoice) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO invoices (id, customer_id, amount, tax, status, issued_at, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			tax = excluded.tax,
			status = excluded.status,
			issued_at = excluded.issued_at`,
		inv.ID, inv.CustomerID, inv.Amount.String(), inv.Tax.String(),
		inv.Status, inv.IssuedAt.UTC().Format(time.RFC3339Nano),
		inv.Version, inv.CreatedAt.UTC().Format(time.RFC3339Nano))
	return storeErr("save invoice", err)
}

const invoiceColumns = `id, customer_id, amount, tax, status, issued_at, version, created_at`

func (s *Store) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	return getInvoice(ctx, s.db, id)
}

func getInvoice(ctx context.Context, q querier, id string) (*billing.Invoice, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoiceRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get invoice", err)
	}
	return inv, nil
}

func (s *Store) ListOpenInvoices(ctx context.Context, customerID ledger.CustomerID) ([]billing.Invoice, error) {
	return listOpenInvoices(ctx, s.db, customerID)
}

func listOpenInvoices(ctx context.Context, q querier, customerID ledger.CustomerID) ([]billing.Invoice, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE customer_id = ? AND status IN (?, ?)
		 ORDER BY issued_at ASC, id ASC`,
		customerID, billing.InvoiceSent, billing.InvoiceOverdue)
	if err != nil {
		return nil, storeErr("list open invoices", err)
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoiceRow(rows.Scan)
		if err != nil {
			return nil, storeErr("scan invoice", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func scanInvoiceRow(scan func(...any) error) (*billing.Invoice, error) {
	var inv billing.Invoice
	var amount, tax, issuedAt, createdAt string
	if err := scan(&inv.ID, &inv.CustomerID, &amount, &tax,
		&inv.Status, &issuedAt, &inv.Version, &createdAt); err != nil {
		return nil, err
	}
	inv.Amount = mustDecimal(amount)
	inv.Tax = mustDecimal(tax)
	inv.IssuedAt, _ = time.Parse(time.RFC3339Nano, issuedAt)
	inv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &inv, nil
}

func (s *Store) UpdateInvoiceStatus(ctx context.Context, invoiceID string, status billing.InvoiceStatus, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateInvoiceStatus(ctx, s.db, invoiceID, status, expectedVersion)
}

func updateInvoiceStatus(ctx context.Context, q querier, invoiceID string, status billing.InvoiceStatus, expectedVersion int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE invoices SET status = ?, version = version + 1 WHERE id = ? AND version = ?`,
		status, invoiceID, expectedVersion)
	if err != nil {
		return storeErr("update invoice status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("update invoice status", err)
	}
	if affected == 0 {
		inv, err := getInvoice(ctx, q, invoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return &ledger.NotFoundError{Entity: "invoice", ID: invoiceID}
		}
		return fmt.Errorf("%w: invoice %s version %d, expected %d",
			ledger.ErrConflict, invoiceID, inv.Version, expectedVersion)
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) SavePayment(ctx context.Context, p billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePayment(ctx, s.db, p)
}

func savePayment(ctx context.Context, q querier, p billing.Payment) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO payments
		 (id, customer_id, amount, method, reference_number, payment_date, notes, refunded_amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CustomerID, p.Amount.String(), p.Method, p.ReferenceNumber,
		p.PaymentDate.UTC().Format(time.RFC3339Nano), p.Notes,
		p.RefundedAmount.String(), p.CreatedAt.UTC().Format(time.RFC3339Nano))
	return storeErr("save payment", err)
}

func (s *Store) GetPayment(ctx context.Context, id string) (*billing.Payment, error) {
	return getPayment(ctx, s.db, id)
}

func getPayment(ctx context.Context, q querier, id string) (*billing.Payment, error) {
	var (
		p           billing.Payment
		amount      string
		method      sql.NullString
		refNumber   sql.NullString
		paymentDate string
		notes       sql.NullString
		refunded    string
		createdAt   string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, customer_id, amount, method, reference_number, payment_date, notes, refunded_amount, created_at
		 FROM payments WHERE id = ?`, id).
		Scan(&p.ID, &p.CustomerID, &amount, &method, &refNumber,
			&paymentDate, &notes, &refunded, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get payment", err)
	}
	p.Amount = mustDecimal(amount)
	p.Method = method.String
	p.ReferenceNumber = refNumber.String
	p.Notes = notes.String
	p.RefundedAmount = mustDecimal(refunded)
	p.PaymentDate, _ = time.Parse(time.RFC3339Nano, paymentDate)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &p, nil
}

func (s *Store) UpdatePaymentRefundedAmount(ctx context.Context, paymentID string, refunded decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRefunded(ctx, s.db, paymentID, refunded)
}

func updateRefunded(ctx context.Context, q querier, paymentID string, refunded decimal.Decimal) error {
	res, err := q.ExecContext(ctx,
		`UPDATE payments SET refunded_amount = ? WHERE id = ?`,
		refunded.String(), paymentID)
	if err != nil {
		return storeErr("update refunded amount", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("update refunded amount", err)
	}
	if affected == 0 {
		return &ledger.NotFoundError{Entity: "payment", ID: paymentID}
	}
	return nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func (s *Store) SaveAllocation(ctx context.Context, a billing.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAllocation(ctx, s.db, a)
}

func saveAllocation(ctx context.Context, q querier, a billing.Allocation) error {
	inv, err := getInvoice(ctx, q, a.InvoiceID)
	if err != nil {
		return err
	}
	if inv == nil {
		return &ledger.NotFoundError{Entity: "invoice", ID: a.InvoiceID}
	}

	existing, err := allocationsByInvoice(ctx, q, a.InvoiceID)
	if err != nil {
		return err
	}
	outstanding := inv.TotalDue().Sub(billing.SumAllocations(existing))
	if a.Amount.GreaterThan(outstanding) {
		return &billing.OverAllocationError{
			InvoiceID:   a.InvoiceID,
			Outstanding: outstanding,
			Requested:   a.Amount,
		}
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO payment_allocations (id, payment_id, invoice_id, amount, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.PaymentID, a.InvoiceID, a.Amount.String(),
		a.CreatedAt.UTC().Format(time.RFC3339Nano))
	return storeErr("save allocation", err)
}

func (s *Store) AllocationsByPayment(ctx context.Context, paymentID string) ([]billing.Allocation, error) {
	return queryAllocations(ctx, s.db, `payment_id`, paymentID)
}

func (s *Store) AllocationsByInvoice(ctx context.Context, invoiceID string) ([]billing.Allocation, error) {
	return allocationsByInvoice(ctx, s.db, invoiceID)
}

func allocationsByInvoice(ctx context.Context, q querier, invoiceID string) ([]billing.Allocation, error) {
	return queryAllocations(ctx, q, `invoice_id`, invoiceID)
}

func queryAllocations(ctx context.Context, q querier, column, value string) ([]billing.Allocation, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, payment_id, invoice_id, amount, created_at
		 FROM payment_allocations WHERE `+column+` = ? ORDER BY created_at ASC, id ASC`,
		value)
	if err != nil {
		return nil, storeErr("query allocations", err)
	}
	defer rows.Close()

	var allocations []billing.Allocation
	for rows.Next() {
		var a billing.Allocation
		var amount, createdAt string
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.InvoiceID, &amount, &createdAt); err != nil {
			return nil, storeErr("scan allocation", err)
		}
		a.Amount = mustDecimal(amount)
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// =============================================================================
// TRANSACTION BOUNDARY
// =============================================================================

// WithTx executes fn within a database transaction held under the
// writer lock. If fn returns an error the transaction is rolled back
// and nothing observable changes.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return storeErr("commit transaction", err)
	}
	return nil
}

// txStore routes every operation through the open *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

var _ billing.Store = (*txStore)(nil)

func (t *txStore) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendTransaction(ctx, t.tx, tx)
}

func (t *txStore) Load(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	return loadTransactions(ctx, t.tx, customerID)
}

func (t *txStore) Account(ctx context.Context, customerID ledger.CustomerID) (ledger.Account, error) {
	account, _, err := getAccount(ctx, t.tx, customerID)
	return account, err
}

func (t *txStore) Accounts(ctx context.Context) ([]ledger.Account, error) {
	return listAccounts(ctx, t.tx)
}

func (t *txStore) SeedAccount(ctx context.Context, account ledger.Account) error {
	return seedAccount(ctx, t.tx, account)
}

func (t *txStore) SaveCustomer(ctx context.Context, c billing.Customer) error {
	return saveCustomer(ctx, t.tx, c)
}

func (t *txStore) GetCustomer(ctx context.Context, id string) (*billing.Customer, error) {
	return getCustomer(ctx, t.tx, id)
}

func (t *txStore) ListCustomers(ctx context.Context) ([]billing.Customer, error) {
	return listCustomers(ctx, t.tx)
}

func (t *txStore) SaveInvoice(ctx context.Context, inv billing.Invoice) error {
	return saveInvoice(ctx, t.tx, inv)
}

func (t *txStore) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	return getInvoice(ctx, t.tx, id)
}

func (t *txStore) ListOpenInvoices(ctx context.Context, customerID ledger.CustomerID) ([]billing.Invoice, error) {
	return listOpenInvoices(ctx, t.tx, customerID)
}

func (t *txStore) UpdateInvoiceStatus(ctx context.Context, invoiceID string, status billing.InvoiceStatus, expectedVersion int) error {
	return updateInvoiceStatus(ctx, t.tx, invoiceID, status, expectedVersion)
}

func (t *txStore) SavePayment(ctx context.Context, p billing.Payment) error {
	return savePayment(ctx, t.tx, p)
}

func (t *txStore) GetPayment(ctx context.Context, id string) (*billing.Payment, error) {
	return getPayment(ctx, t.tx, id)
}

func (t *txStore) UpdatePaymentRefundedAmount(ctx context.Context, paymentID string, refunded decimal.Decimal) error {
	return updateRefunded(ctx, t.tx, paymentID, refunded)
}

func (t *txStore) SaveAllocation(ctx context.Context, a billing.Allocation) error {
	return saveAllocation(ctx, t.tx, a)
}

func (t *txStore) AllocationsByPayment(ctx context.Context, paymentID string) ([]billing.Allocation, error) {
	return queryAllocations(ctx, t.tx, `payment_id`, paymentID)
}

func (t *txStore) AllocationsByInvoice(ctx context.Context, invoiceID string) ([]billing.Allocation, error) {
	return allocationsByInvoice(ctx, t.tx, invoiceID)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// storeErr classifies driver errors into the engine's taxonomy.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s: %s", ledger.ErrConflict, op, msg)
	}
	return fmt.Errorf("%w: %s: %s", ledger.ErrStore, op, msg)
}
