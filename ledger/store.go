/*
store.go - Persistence interface for the transaction log

PURPOSE:
  Defines the contract between the ledger engine and the database. The
  engine does not require a specific store; anything that can append
  durably and keep the projection in step qualifies.

APPEND-ONLY CONTRACT:
  - Append(): the ONLY write operation on the log
  - NO Update() or Delete() methods exist
  - Corrections are made by appending offsetting transactions

PROJECTION CONTRACT:
  Append must atomically update the customer's Account projection in the
  same durable unit as the log write. Account() for an unknown customer
  returns the implicit zero projection, never an error.

IMPLEMENTATIONS:
  - store/memory:   In-memory, for tests and dev
  - store/sqlite:   Embedded SQLite with WAL
  - store/postgres: PostgreSQL with serializable transactions
*/
package ledger

import "context"

// Store persists the append-only transaction log plus one balance
// projection per customer.
type Store interface {
	// Append persists a transaction and updates the customer's
	// projection atomically. Append-only: there is no way to edit or
	// remove an entry once written.
	Append(ctx context.Context, tx Transaction) error

	// Load returns all transactions for a customer ordered by
	// CreatedAt then ID (the audit order).
	Load(ctx context.Context, customerID CustomerID) ([]Transaction, error)

	// Account returns the balance projection, materializing an
	// implicit zero-balance account if the customer has none.
	Account(ctx context.Context, customerID CustomerID) (Account, error)

	// Accounts returns every materialized projection, for reporting.
	// May be read with snapshot isolation; it is informational.
	Accounts(ctx context.Context) ([]Account, error)
}
