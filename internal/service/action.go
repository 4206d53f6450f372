package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/feefineops/internal/domain"
	"github.com/punchamoorthee/feefineops/internal/money"
)

const defaultPublishTimeout = 5 * time.Second

// ActionService validates and applies fee/fine actions. It holds no balances of its own;
// every invocation runs in its own unit of work against the Store.
type ActionService struct {
	store    Store
	logger   *zap.Logger
	notifier NotificationPort
	events   EventPort

	actionTimeout  time.Duration
	publishTimeout time.Duration
	now            func() time.Time

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

type Option func(*ActionService)

func WithNotifier(n NotificationPort) Option {
	return func(s *ActionService) { s.notifier = n }
}

func WithEventPublisher(p EventPort) Option {
	return func(s *ActionService) { s.events = p }
}

// WithActionTimeout bounds each Execute and Check call. Zero leaves the caller's deadline alone.
func WithActionTimeout(d time.Duration) Option {
	return func(s *ActionService) { s.actionTimeout = d }
}

func WithPublishTimeout(d time.Duration) Option {
	return func(s *ActionService) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ActionService) { s.now = now }
}

func NewActionService(store Store, logger *zap.Logger, opts ...Option) *ActionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ActionService{
		store:          store,
		logger:         logger,
		publishTimeout: defaultPublishTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check reports whether req could be executed right now without mutating anything.
// Expected refusals come back as CheckResult{Allowed: false}; a missing account or
// a store failure is returned as an error.
func (s *ActionService) Check(ctx context.Context, req domain.ActionRequest) (*domain.CheckResult, error) {
	ids := uniqueIDs(req.AccountIDs)
	res := &domain.CheckResult{AccountIDs: ids, Amount: req.Amount}

	amount, err := s.precheck(req, ids)
	if err != nil {
		res.ErrorMessage = err.(*Error).Message
		return res, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	accounts, err := s.store.Accounts().GetByIDs(ctx, ids)
	if err != nil {
		return nil, persistenceFailure("load accounts", err)
	}

	var history []domain.Action
	if req.Kind == domain.ActionRefund {
		if history, err = s.store.Ledger().ListByAccounts(ctx, ids); err != nil {
			return nil, persistenceFailure("load account history", err)
		}
	}

	v, err := validate(req.Kind, ids, accounts, history, amount)
	if err != nil {
		verr := err.(*Error)
		if verr.Kind == KindAccountNotFound {
			return nil, verr
		}
		res.ErrorMessage = verr.Message
		if verr.Remaining != nil {
			res.RemainingAmount = *verr.Remaining
		}
		return res, nil
	}

	res.Allowed = true
	res.RemainingAmount = v.remainingAfter()
	return res, nil
}

// Execute applies req atomically: either every allocation and ledger entry is
// committed, or nothing is.
func (s *ActionService) Execute(ctx context.Context, req domain.ActionRequest) (res *domain.ActionResult, err error) {
	start := time.Now()
	ids := uniqueIDs(req.AccountIDs)

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, s.fault(req, r)
		}
		s.observe(req.Kind, start, err)
	}()

	amount, err := s.precheck(req, ids)
	if err != nil {
		return nil, err
	}
	if req.Kind == domain.ActionTransfer && req.TransferAccount == "" {
		return nil, failedValidation("transfer account is required", money.Zero)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var result *domain.ActionResult
	txErr := s.store.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		accounts, err := uow.Accounts().LockByIDs(ctx, ids)
		if err != nil {
			return persistenceFailure("lock accounts", err)
		}

		var history []domain.Action
		if req.Kind == domain.ActionRefund {
			if history, err = uow.Ledger().ListByAccounts(ctx, ids); err != nil {
				return persistenceFailure("load account history", err)
			}
		}

		v, err := validate(req.Kind, ids, accounts, history, amount)
		if err != nil {
			return err
		}

		result, err = s.apply(ctx, uow, req, v)
		return err
	})

	if txErr != nil {
		var aerr *Error
		if !errors.As(txErr, &aerr) {
			aerr = persistenceFailure("commit", txErr)
		}
		s.logFailure(req, aerr)
		return nil, aerr
	}

	s.logger.Info("fee/fine action committed",
		zap.String("kind", string(req.Kind)),
		zap.Strings("account_ids", result.AccountIDs),
		zap.Stringer("amount", result.RequestedAmount),
	)

	s.afterCommit(ctx, result.Actions)
	return result, nil
}

// apply mutates each planned account and records one ledger entry per account in the unit of work.
func (s *ActionService) apply(ctx context.Context, uow UnitOfWork, req domain.ActionRequest, v validation) (*domain.ActionResult, error) {
	capacity := make(map[string]money.Amount, len(v.targets))
	accounts := make(map[string]domain.Account, len(v.targets))
	for _, t := range v.targets {
		capacity[t.account.ID] = t.capacity
		accounts[t.account.ID] = t.account
	}

	now := s.now().UTC()
	result := &domain.ActionResult{Kind: req.Kind, RemainingAmount: v.remainingAfter()}

	for _, alloc := range v.plan() {
		acc := accounts[alloc.accountID]

		delta := alloc.amount.Neg()
		if !req.Kind.Reduces() {
			delta = alloc.amount
		}
		remaining := acc.Remaining.Add(delta)
		if remaining.IsNegative() || remaining.Cmp(acc.Amount) > 0 {
			panic(distributionOverrun{requested: v.applied, leftover: remaining})
		}

		full := remaining.IsZero()
		if req.Kind == domain.ActionRefund {
			full = capacity[acc.ID].Sub(alloc.amount).IsZero()
		}
		label := domain.PaymentLabel(req.Kind, full)

		acc.Remaining = remaining
		acc.Status = domain.StatusFor(remaining)
		acc.PaymentStatus = label
		acc.UpdatedAt = now

		if err := uow.Accounts().Update(ctx, acc); err != nil {
			return nil, persistenceFailure(fmt.Sprintf("update account %s", acc.ID), err)
		}

		action := domain.Action{
			ID:             uuid.NewString(),
			AccountID:      acc.ID,
			UserID:         acc.UserID,
			Kind:           req.Kind,
			TypeAction:     label,
			AmountAction:   delta,
			Balance:        remaining,
			DateAction:     now,
			Comment:        req.Comment,
			Notify:         req.NotifyPatron,
			Source:         req.UserName,
			ServicePointID: req.ServicePointID,
		}
		switch req.Kind {
		case domain.ActionPay, domain.ActionWaive, domain.ActionRefund:
			action.PaymentMethod = req.PaymentMethod
		case domain.ActionTransfer:
			action.TransferAccount = req.TransferAccount
		}

		if err := uow.Ledger().Insert(ctx, []domain.Action{action}); err != nil {
			return nil, persistenceFailure(fmt.Sprintf("record action for account %s", acc.ID), err)
		}

		result.RequestedAmount = result.RequestedAmount.Add(alloc.amount)
		result.AccountIDs = append(result.AccountIDs, acc.ID)
		result.Actions = append(result.Actions, action)
	}

	if result.RequestedAmount != v.applied {
		panic(distributionOverrun{requested: v.applied, leftover: v.applied.Sub(result.RequestedAmount)})
	}

	return result, nil
}

// Account returns a single account.
func (s *ActionService) Account(ctx context.Context, id string) (*domain.Account, error) {
	accounts, err := s.store.Accounts().GetByIDs(ctx, []string{id})
	if err != nil {
		return nil, persistenceFailure("load account", err)
	}
	if len(accounts) == 0 {
		return nil, newError(KindAccountNotFound, fmt.Sprintf("fee/fine account %s was not found", id))
	}
	return &accounts[0], nil
}

// History returns the ledger entries of one account, oldest first.
func (s *ActionService) History(ctx context.Context, id string) ([]domain.Action, error) {
	if _, err := s.Account(ctx, id); err != nil {
		return nil, err
	}
	actions, err := s.store.Ledger().ListByAccounts(ctx, []string{id})
	if err != nil {
		return nil, persistenceFailure("load account history", err)
	}
	return actions, nil
}

// Wait stops scheduling post-commit publications and blocks until the ones
// already started have finished. Actions committed afterwards are not published.
func (s *ActionService) Wait() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.inflight.Wait()
}

// precheck rejects malformed requests before any store access.
func (s *ActionService) precheck(req domain.ActionRequest, ids []string) (*money.Amount, error) {
	if !req.Kind.IsValid() {
		return nil, failedValidation(fmt.Sprintf("unsupported action %q", req.Kind), money.Zero)
	}
	if len(ids) == 0 {
		return nil, failedValidation("at least one fee/fine account is required", money.Zero)
	}
	return parseAmount(req.Kind, req.Amount)
}

func (s *ActionService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.actionTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.actionTimeout)
}

// afterCommit hands committed actions to the notice and event ports. The financial
// transaction already stands, so failures here are only logged.
func (s *ActionService) afterCommit(ctx context.Context, actions []domain.Action) {
	if s.events == nil && s.notifier == nil {
		return
	}
	if ctx.Err() != nil {
		s.logger.Warn("request ended before publication; skipping post-commit hooks", zap.Error(ctx.Err()))
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.logger.Warn("service is shutting down; skipping post-commit hooks", zap.Int("actions", len(actions)))
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("post-commit hook panicked", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()

		ctx, cancel := context.WithTimeout(detached, s.publishTimeout)
		defer cancel()

		for _, a := range actions {
			if s.events != nil {
				if err := s.events.Publish(ctx, a); err != nil {
					s.logger.Warn("failed to publish fee/fine action", zap.String("action_id", a.ID), zap.Error(err))
				}
			}
			if a.Notify && s.notifier != nil {
				if err := s.notifier.Notify(ctx, a); err != nil {
					s.logger.Warn("failed to send patron notice", zap.String("action_id", a.ID), zap.Error(err))
				}
			}
		}
	}()
}

// fault converts a panic raised while executing into a request failure.
func (s *ActionService) fault(req domain.ActionRequest, r any) *Error {
	if overrun, ok := r.(distributionOverrun); ok {
		distributionOverruns.Inc()
		s.logger.Error("distribution overrun",
			zap.String("kind", string(req.Kind)),
			zap.Strings("account_ids", req.AccountIDs),
			zap.String("amount", req.Amount),
			zap.Stringer("requested", overrun.requested),
			zap.Stringer("leftover", overrun.leftover),
			zap.Stack("stack"),
		)
		return newError(KindDistributionOverrun, "internal error while distributing the amount")
	}

	s.logger.Error("unexpected panic while executing fee/fine action",
		zap.String("kind", string(req.Kind)),
		zap.Strings("account_ids", req.AccountIDs),
		zap.Any("panic", r),
		zap.Stack("stack"),
	)
	return persistenceFailure("unexpected failure", fmt.Errorf("panic: %v", r))
}

func (s *ActionService) logFailure(req domain.ActionRequest, err *Error) {
	fields := []zap.Field{
		zap.String("kind", string(req.Kind)),
		zap.Strings("account_ids", req.AccountIDs),
		zap.String("amount", req.Amount),
		zap.String("error_kind", string(err.Kind)),
		zap.Error(err),
	}
	if err.Expected() {
		s.logger.Debug("fee/fine action rejected", fields...)
		return
	}
	s.logger.Error("fee/fine action failed", fields...)
}

func (s *ActionService) observe(kind domain.ActionKind, start time.Time, err error) {
	outcome := outcomeCommitted
	if err != nil {
		outcome = string(KindOf(err))
	}
	actionsTotal.WithLabelValues(string(kind), outcome).Inc()
	actionDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}

// uniqueIDs drops repeated ids, keeping the first occurrence.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
