package service

import (
	"context"

	"github.com/punchamoorthee/feefineops/internal/domain"
)

// AccountStore reads and mutates fee/fine accounts.
type AccountStore interface {
	// GetByIDs returns the accounts that exist among ids; missing ids are simply absent.
	GetByIDs(ctx context.Context, ids []string) ([]domain.Account, error)
	// LockByIDs behaves like GetByIDs but also row-locks each account for the
	// rest of the unit of work. Locks are taken in ascending id order.
	LockByIDs(ctx context.Context, ids []string) ([]domain.Account, error)
	// Update persists the balance and status fields of acc. Returns ErrConflict if the row is gone.
	Update(ctx context.Context, acc domain.Account) error
}

// LedgerStore is the append-only table of fee/fine actions.
type LedgerStore interface {
	Insert(ctx context.Context, actions []domain.Action) error
	// ListByAccounts returns the history of the given accounts, oldest first.
	ListByAccounts(ctx context.Context, accountIDs []string) ([]domain.Action, error)
}

// UnitOfWork groups the stores bound to one transaction.
type UnitOfWork interface {
	Accounts() AccountStore
	Ledger() LedgerStore
}

// Store opens units of work. Its own Accounts and Ledger read outside any transaction.
type Store interface {
	UnitOfWork
	// WithinTx runs fn in a transaction, committing if fn returns nil and rolling back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// NotificationPort triggers patron notices after commit.
type NotificationPort interface {
	Notify(ctx context.Context, action domain.Action) error
}

// EventPort publishes committed actions to downstream consumers.
type EventPort interface {
	Publish(ctx context.Context, action domain.Action) error
}
