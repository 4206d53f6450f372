package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/feefineops/internal/domain"
	"github.com/punchamoorthee/feefineops/internal/money"
	"github.com/punchamoorthee/feefineops/internal/service"
)

const accountColumns = `id, user_id, item_id, owner_id, fee_fine_id, fee_fine_type, amount, remaining, status, payment_status, created_at, updated_at`

const actionColumns = `id, account_id, user_id, kind, type_action, amount_action, balance, date_action, payment_method, transfer_account, comments, notify, source, service_point_id`

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

func (s *Store) Accounts() service.AccountStore { return accounts{q: s.Db} }

func (s *Store) Ledger() service.LedgerStore { return ledger{q: s.Db} }

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken through
// LockByIDs serialize competing actions on the same accounts; a waiting
// transaction then reads the committed balance of the winner.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow service.UnitOfWork) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(ctx, unitOfWork{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type unitOfWork struct{ q querier }

func (u unitOfWork) Accounts() service.AccountStore { return accounts{q: u.q} }

func (u unitOfWork) Ledger() service.LedgerStore { return ledger{q: u.q} }

type accounts struct{ q querier }

func (a accounts) GetByIDs(ctx context.Context, ids []string) ([]domain.Account, error) {
	rows, err := a.q.Query(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// LockByIDs acquires the row locks one at a time in ascending id order, so two
// bulk actions over overlapping accounts can never deadlock on each other.
func (a accounts) LockByIDs(ctx context.Context, ids []string) ([]domain.Account, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	out := make([]domain.Account, 0, len(sorted))
	for _, id := range sorted {
		acc, err := scanAccount(a.q.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("lock acquisition failed: %w", err)
		}
		out = append(out, acc)
	}
	return out, nil
}

func (a accounts) Update(ctx context.Context, acc domain.Account) error {
	tag, err := a.q.Exec(ctx,
		"UPDATE accounts SET remaining = $2, status = $3, payment_status = $4, updated_at = $5 WHERE id = $1",
		acc.ID, acc.Remaining.Minor(), string(acc.Status), acc.PaymentStatus, acc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("account update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrConflict
	}
	return nil
}

type ledger struct{ q querier }

func (l ledger) Insert(ctx context.Context, actions []domain.Action) error {
	for _, a := range actions {
		_, err := l.q.Exec(ctx,
			"INSERT INTO feefine_actions ("+actionColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)",
			a.ID, a.AccountID, a.UserID, string(a.Kind), a.TypeAction, a.AmountAction.Minor(), a.Balance.Minor(),
			a.DateAction, a.PaymentMethod, a.TransferAccount, a.Comment, a.Notify, a.Source, a.ServicePointID,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == uniqueViolation || pgErr.Code == foreignKeyViolation) {
				return fmt.Errorf("ledger entry %s rejected: %w", a.ID, service.ErrConflict)
			}
			return fmt.Errorf("ledger entry failed: %w", err)
		}
	}
	return nil
}

func (l ledger) ListByAccounts(ctx context.Context, accountIDs []string) ([]domain.Action, error) {
	rows, err := l.q.Query(ctx,
		"SELECT "+actionColumns+" FROM feefine_actions WHERE account_id = ANY($1) ORDER BY seq",
		accountIDs)
	if err != nil {
		return nil, fmt.Errorf("ledger query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.Action
	for rows.Next() {
		var (
			a               domain.Action
			kind            string
			amount, balance int64
		)
		err := rows.Scan(&a.ID, &a.AccountID, &a.UserID, &kind, &a.TypeAction, &amount, &balance,
			&a.DateAction, &a.PaymentMethod, &a.TransferAccount, &a.Comment, &a.Notify, &a.Source, &a.ServicePointID)
		if err != nil {
			return nil, fmt.Errorf("ledger scan failed: %w", err)
		}
		a.Kind = domain.ActionKind(kind)
		a.AmountAction = money.FromMinor(amount)
		a.Balance = money.FromMinor(balance)
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		acc               domain.Account
		status            string
		amount, remaining int64
	)
	err := row.Scan(&acc.ID, &acc.UserID, &acc.ItemID, &acc.OwnerID, &acc.FeeFineID, &acc.FeeFineType,
		&amount, &remaining, &status, &acc.PaymentStatus, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return domain.Account{}, err
	}
	acc.Amount = money.FromMinor(amount)
	acc.Remaining = money.FromMinor(remaining)
	acc.Status = domain.Status(status)
	return acc, nil
}
