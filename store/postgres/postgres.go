/*
Package postgres provides the production PostgreSQL store.

Same contract as store/sqlite, different concurrency model: units run
as SERIALIZABLE database transactions and the database detects races
itself. Serialization failures (SQLSTATE 40001) and unique violations
(23505) map to the conflict error so the processors retry them.
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/tally/billing-engine/billing"
	"github.com/tally/billing-engine/ledger"
)

type Store struct {
	db *sql.DB
}

// New connects using a lib/pq connection string, e.g.
// "host=localhost port=5432 user=billing dbname=billing sslmode=disable".
func New(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

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
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_accounts (
		customer_id TEXT PRIMARY KEY,
		opening_balance NUMERIC(18,4) NOT NULL,
		current_balance NUMERIC(18,4) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	-- Append-only. No UPDATE, no DELETE.
	CREATE TABLE IF NOT EXISTS ledger_transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		amount NUMERIC(18,4) NOT NULL,
		tx_type TEXT NOT NULL,
		description TEXT,
		reference_kind TEXT,
		reference_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_tx_customer
		ON ledger_transactions(customer_id, created_at, id);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		amount NUMERIC(18,4) NOT NULL,
		tax NUMERIC(18,4) NOT NULL,
		status TEXT NOT NULL,
		issued_at TIMESTAMPTZ NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_customer_status
		ON invoices(customer_id, status, issued_at);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		amount NUMERIC(18,4) NOT NULL,
		method TEXT,
		reference_number TEXT,
		payment_date TIMESTAMPTZ NOT NULL,
		notes TEXT,
		refunded_amount NUMERIC(18,4) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payment_allocations (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		amount NUMERIC(18,4) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(payment_id, invoice_id)
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_invoice
		ON payment_allocations(invoice_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

var (
	_ ledger.Store    = (*Store)(nil)
	_ billing.TxStore = (*Store)(nil)
)

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
	now := time.Now().UTC()
	// NUMERIC arithmetic happens in the database; the upsert keeps the
	// projection move and the log insert in the same unit.
	_, err := q.ExecContext(ctx,
		`INSERT INTO ledger_accounts (customer_id, opening_balance, current_balance, created_at, updated_at)
		 VALUES ($1, 0, $2, $3, $3)
		 ON CONFLICT (customer_id) DO UPDATE SET
			current_balance = ledger_accounts.current_balance + $2,
			updated_at = $3`,
		tx.CustomerID, tx.SignedAmount(), now)
	if err != nil {
		return storeErr("update balance projection", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO ledger_transactions
		 (id, customer_id, amount, tx_type, description, reference_kind, reference_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		tx.ID, tx.CustomerID, tx.Amount, tx.Type,
		tx.Description, tx.Reference.Kind, tx.Reference.ID, tx.CreatedAt.UTC())
	return storeErr("append transaction", err)
}

func (s *Store) Load(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	return loadTransactions(ctx, s.db, customerID)
}

func loadTransactions(ctx context.Context, q querier, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, customer_id, amount, tx_type, description, reference_kind, reference_id, created_at
		 FROM ledger_transactions
		 WHERE customer_id = $1
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
			description sql.NullString
			refKind     sql.NullString
			refID       sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.CustomerID, &tx.Amount, &tx.Type,
			&description, &refKind, &refID, &tx.CreatedAt); err != nil {
			return nil, storeErr("scan transaction", err)
		}
		tx.Description = description.String
		tx.Reference = ledger.Reference{
			Kind: ledger.ReferenceKind(refKind.String),
			ID:   refID.String,
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *Store) Account(ctx context.Context, customerID ledger.CustomerID) (ledger.Account, error) {
	return getAccount(ctx, s.db, customerID)
}

func getAccount(ctx context.Context, q querier, customerID ledger.CustomerID) (ledger.Account, error) {
	account := ledger.Account{CustomerID: customerID}
	err := q.QueryRowContext(ctx,
		`SELECT opening_balance, current_balance FROM ledger_accounts WHERE customer_id = $1`,
		customerID).Scan(&account.OpeningBalance, &account.CurrentBalance)
	if err == sql.ErrNoRows {
		return ledger.ZeroAccount(customerID), nil
	}
	if err != nil {
		return ledger.Account{}, storeErr("get account", err)
	}
	return account, nil
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
		if err := rows.Scan(&account.CustomerID, &account.OpeningBalance, &account.CurrentBalance); err != nil {
			return nil, storeErr("scan account", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (s *Store) SeedAccount(ctx context.Context, account ledger.Account) error {
	return seedAccount(ctx, s.db, account)
}

func seedAccount(ctx context.Context, q querier, account ledger.Account) error {
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx,
		`INSERT INTO ledger_accounts (customer_id, opening_balance, current_balance, created_at, updated_at)
		 VALUES ($1, $2, $2, $3, $3)
		 ON CONFLICT (customer_id) DO NOTHING`,
		account.CustomerID, account.OpeningBalance, now)
	if err != nil {
		return storeErr("seed account", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("seed account", err)
	}
	if affected == 0 {
		return &ledger.ValidationError{Field: "customer_id", Message: "account already exists"}
	}
	return nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Store) SaveCustomer(ctx context.Context, c billing.Customer) error {
	return saveCustomer(ctx, s.db, c)
}

func saveCustomer(ctx context.Context, q querier, c billing.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO customers (id, name, email, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`,
		c.ID, c.Name, c.Email, c.CreatedAt.UTC())
	return storeErr("save customer", err)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*billing.Customer, error) {
	return getCustomer(ctx, s.db, id)
}

func getCustomer(ctx context.Context, q querier, id string) (*billing.Customer, error) {
	var c billing.Customer
	var email sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &email, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get customer", err)
	}
	c.Email = email.String
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
		if err := rows.Scan(&c.ID, &c.Name, &email, &c.CreatedAt); err != nil {
			return nil, storeErr("scan customer", err)
		}
		c.Email = email.String
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// =============================================================================
// INVOICES
// =============================================================================

func (s *Store) SaveInvoice(ctx context.Context, inv billing.Invoice) error {
	return saveInvoice(ctx, s.db, inv)
}

func saveInvoice(ctx context.Context, q querier, inv billing.Invoice) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO invoices (id, customer_id, amount, tax, status, issued_at, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			amount = EXCLUDED.amount,
			tax = EXCLUDED.tax,
			status = EXCLUDED.status,
			issued_at = EXCLUDED.issued_at`,
		inv.ID, inv.CustomerID, inv.Amount, inv.Tax,
		inv.Status, inv.IssuedAt.UTC(), inv.Version, inv.CreatedAt.UTC())
	return storeErr("save invoice", err)
}

const invoiceColumns = `id, customer_id, amount, tax, status, issued_at, version, created_at`

func (s *Store) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	return getInvoice(ctx, s.db, id)
}

func getInvoice(ctx context.Context, q querier, id string) (*billing.Invoice, error) {
	var inv billing.Invoice
	err := q.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id).
		Scan(&inv.ID, &inv.CustomerID, &inv.Amount, &inv.Tax,
			&inv.Status, &inv.IssuedAt, &inv.Version, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get invoice", err)
	}
	return &inv, nil
}

func (s *Store) ListOpenInvoices(ctx context.Context, customerID ledger.CustomerID) ([]billing.Invoice, error) {
	return listOpenInvoices(ctx, s.db, customerID)
}

func listOpenInvoices(ctx context.Context, q querier, customerID ledger.CustomerID) ([]billing.Invoice, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE customer_id = $1 AND status IN ($2, $3)
		 ORDER BY issued_at ASC, id ASC`,
		customerID, billing.InvoiceSent, billing.InvoiceOverdue)
	if err != nil {
		return nil, storeErr("list open invoices", err)
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		var inv billing.Invoice
		if err := rows.Scan(&inv.ID, &inv.CustomerID, &inv.Amount, &inv.Tax,
			&inv.Status, &inv.IssuedAt, &inv.Version, &inv.CreatedAt); err != nil {
			return nil, storeErr("scan invoice", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (s *Store) UpdateInvoiceStatus(ctx context.Context, invoiceID string, status billing.InvoiceStatus, expectedVersion int) error {
	return updateInvoiceStatus(ctx, s.db, invoiceID, status, expectedVersion)
}

func updateInvoiceStatus(ctx context.Context, q querier, invoiceID string, status billing.InvoiceStatus, expectedVersion int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE invoices SET status = $1, version = version + 1 WHERE id = $2 AND version = $3`,
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
	return savePayment(ctx, s.db, p)
}

func savePayment(ctx context.Context, q querier, p billing.Payment) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO payments
		 (id, customer_id, amount, method, reference_number, payment_date, notes, refunded_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.CustomerID, p.Amount, p.Method, p.ReferenceNumber,
		p.PaymentDate.UTC(), p.Notes, p.RefundedAmount, p.CreatedAt.UTC())
	return storeErr("save payment", err)
}

func (s *Store) GetPayment(ctx context.Context, id string) (*billing.Payment, error) {
	return getPayment(ctx, s.db, id)
}

func getPayment(ctx context.Context, q querier, id string) (*billing.Payment, error) {
	var (
		p         billing.Payment
		method    sql.NullString
		refNumber sql.NullString
		notes     sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, customer_id, amount, method, reference_number, payment_date, notes, refunded_amount, created_at
		 FROM payments WHERE id = $1`, id).
		Scan(&p.ID, &p.CustomerID, &p.Amount, &method, &refNumber,
			&p.PaymentDate, &notes, &p.RefundedAmount, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get payment", err)
	}
	p.Method = method.String
	p.ReferenceNumber = refNumber.String
	p.Notes = notes.String
	return &p, nil
}

func (s *Store) UpdatePaymentRefundedAmount(ctx context.Context, paymentID string, refunded decimal.Decimal) error {
	return updateRefunded(ctx, s.db, paymentID, refunded)
}

func updateRefunded(ctx context.Context, q querier, paymentID string, refunded decimal.Decimal) error {
	res, err := q.ExecContext(ctx,
		`UPDATE payments SET refunded_amount = $1 WHERE id = $2`,
		refunded, paymentID)
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
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.PaymentID, a.InvoiceID, a.Amount, a.CreatedAt.UTC())
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
		 FROM payment_allocations WHERE `+column+` = $1 ORDER BY created_at ASC, id ASC`,
		value)
	if err != nil {
		return nil, storeErr("query allocations", err)
	}
	defer rows.Close()

	var allocations []billing.Allocation
	for rows.Next() {
		var a billing.Allocation
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.InvoiceID, &a.Amount, &a.CreatedAt); err != nil {
			return nil, storeErr("scan allocation", err)
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// =============================================================================
// TRANSACTION BOUNDARY
// =============================================================================

// WithTx runs fn inside a SERIALIZABLE transaction. A serialization
// failure surfaces as a conflict, which the processors retry.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
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
	return getAccount(ctx, t.tx, customerID)
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

// storeErr classifies driver errors into the engine's taxonomy.
// 40001 = serialization_failure, 23505 = unique_violation.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "23505":
			return fmt.Errorf("%w: %s: %s", ledger.ErrConflict, op, pqErr.Message)
		}
	}
	return fmt.Errorf("%w: %s: %v", ledger.ErrStore, op, err)
}
