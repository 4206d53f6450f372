// Package memory is an in-process Store. Each unit of work locks the accounts it
// touches in ascending id order and stages writes until commit, which mirrors the
// row-locking contract of the Postgres store.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/punchamoorthee/feefineops/internal/domain"
	"github.com/punchamoorthee/feefineops/internal/service"
)

var errNotLocked = errors.New("account was not locked in this unit of work")

type Store struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	actions  []domain.Action
	locks    map[string]chan struct{}
}

func New() *Store {
	return &Store{
		accounts: make(map[string]domain.Account),
		locks:    make(map[string]chan struct{}),
	}
}

// Put inserts or replaces accounts as-is.
func (s *Store) Put(accounts ...domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range accounts {
		s.accounts[acc.ID] = acc
	}
}

// Append records ledger entries directly, e.g. history created before the service started.
func (s *Store) Append(actions ...domain.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, actions...)
}

func (s *Store) Accounts() service.AccountStore { return direct{s} }

func (s *Store) Ledger() service.LedgerStore { return direct{s} }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow service.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &tx{store: s, held: make(map[string]chan struct{}), updates: make(map[string]domain.Account)}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.commit()
	return nil
}

func (s *Store) lockFor(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

func (s *Store) get(ids []string) []domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		if acc, ok := s.accounts[id]; ok {
			out = append(out, acc)
		}
	}
	return out
}

func (s *Store) history(ids []string) []domain.Action {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Action
	for _, a := range s.actions {
		if _, ok := want[a.AccountID]; ok {
			out = append(out, a)
		}
	}
	return out
}

// direct serves reads and writes outside any unit of work.
type direct struct{ s *Store }

func (d direct) GetByIDs(_ context.Context, ids []string) ([]domain.Account, error) {
	return d.s.get(ids), nil
}

func (d direct) LockByIDs(ctx context.Context, ids []string) ([]domain.Account, error) {
	return d.GetByIDs(ctx, ids)
}

func (d direct) Update(_ context.Context, acc domain.Account) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if _, ok := d.s.accounts[acc.ID]; !ok {
		return service.ErrConflict
	}
	d.s.accounts[acc.ID] = acc
	return nil
}

func (d direct) Insert(_ context.Context, actions []domain.Action) error {
	d.s.Append(actions...)
	return nil
}

func (d direct) ListByAccounts(_ context.Context, ids []string) ([]domain.Action, error) {
	return d.s.history(ids), nil
}

type tx struct {
	store   *Store
	held    map[string]chan struct{}
	updates map[string]domain.Account
	order   []string
	staged  []domain.Action
}

func (t *tx) Accounts() service.AccountStore { return txAccounts{t} }

func (t *tx) Ledger() service.LedgerStore { return txLedger{t} }

func (t *tx) lock(ctx context.Context, ids []string) error {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	for _, id := range sorted {
		if _, ok := t.held[id]; ok {
			continue
		}
		ch := t.store.lockFor(id)
		select {
		case ch <- struct{}{}:
			t.held[id] = ch
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *tx) release() {
	for id, ch := range t.held {
		<-ch
		delete(t.held, id)
	}
}

func (t *tx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, id := range t.order {
		t.store.accounts[id] = t.updates[id]
	}
	t.store.actions = append(t.store.actions, t.staged...)
}

func (t *tx) view(ids []string) []domain.Account {
	accounts := t.store.get(ids)
	for i, acc := range accounts {
		if staged, ok := t.updates[acc.ID]; ok {
			accounts[i] = staged
		}
	}
	return accounts
}

type txAccounts struct{ t *tx }

func (a txAccounts) GetByIDs(_ context.Context, ids []string) ([]domain.Account, error) {
	return a.t.view(ids), nil
}

func (a txAccounts) LockByIDs(ctx context.Context, ids []string) ([]domain.Account, error) {
	if err := a.t.lock(ctx, ids); err != nil {
		return nil, err
	}
	return a.t.view(ids), nil
}

func (a txAccounts) Update(_ context.Context, acc domain.Account) error {
	if _, ok := a.t.held[acc.ID]; !ok {
		return errNotLocked
	}
	if len(a.t.store.get([]string{acc.ID})) == 0 {
		return service.ErrConflict
	}
	if _, ok := a.t.updates[acc.ID]; !ok {
		a.t.order = append(a.t.order, acc.ID)
	}
	a.t.updates[acc.ID] = acc
	return nil
}

type txLedger struct{ t *tx }

func (l txLedger) Insert(_ context.Context, actions []domain.Action) error {
	l.t.staged = append(l.t.staged, actions...)
	return nil
}

func (l txLedger) ListByAccounts(_ context.Context, ids []string) ([]domain.Action, error) {
	out := l.t.store.history(ids)
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, a := range l.t.staged {
		if _, ok := want[a.AccountID]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}
