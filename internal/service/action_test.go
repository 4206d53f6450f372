package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/feefineops/internal/domain"
	"github.com/punchamoorthee/feefineops/internal/money"
	"github.com/punchamoorthee/feefineops/internal/service"
	"github.com/punchamoorthee/feefineops/internal/store/memory"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAccount(id, amount string) domain.Account {
	a := money.MustParse(amount)
	return domain.Account{
		ID:            id,
		UserID:        "patron-1",
		OwnerID:       "owner-1",
		FeeFineID:     "overdue",
		Amount:        a,
		Remaining:     a,
		Status:        domain.StatusOpen,
		PaymentStatus: domain.PaymentOutstanding,
	}
}

func setup(t *testing.T, accounts ...domain.Account) (*service.ActionService, *memory.Store) {
	t.Helper()
	st := memory.New()
	st.Put(accounts...)
	return service.NewActionService(st, zap.NewNop(), service.WithClock(func() time.Time { return fixedNow })), st
}

func account(t *testing.T, svc *service.ActionService, id string) domain.Account {
	t.Helper()
	acc, err := svc.Account(context.Background(), id)
	require.NoError(t, err)
	return *acc
}

func TestExecute_PaySingleAccount(t *testing.T) {
	acc := newAccount("a", "15.00")
	acc.Remaining = money.MustParse("15.00")
	svc, _ := setup(t, acc)

	res, err := svc.Execute(context.Background(), domain.ActionRequest{
		Kind:          domain.ActionPay,
		AccountIDs:    []string{"a"},
		Amount:        "5.00",
		PaymentMethod: "Cash",
		Comment:       "paid at desk",
		UserName:      "librarian",
	})
	require.NoError(t, err)

	assert.Equal(t, money.MustParse("5.00"), res.RequestedAmount)
	assert.Equal(t, []string{"a"}, res.AccountIDs)
	require.Len(t, res.Actions, 1)

	action := res.Actions[0]
	assert.NotEmpty(t, action.ID)
	assert.Equal(t, money.MustParse("5.00").Neg(), action.AmountAction)
	assert.Equal(t, money.MustParse("10.00"), action.Balance)
	assert.Equal(t, domain.PaymentPaidPartially, action.TypeAction)
	assert.Equal(t, "Cash", action.PaymentMethod)
	assert.Equal(t, "librarian", action.Source)
	assert.Equal(t, "patron-1", action.UserID)
	assert.Equal(t, fixedNow, action.DateAction)

	got := account(t, svc, "a")
	assert.Equal(t, money.MustParse("10.00"), got.Remaining)
	assert.Equal(t, domain.StatusOpen, got.Status)
	assert.Equal(t, domain.PaymentPaidPartially, got.PaymentStatus)
}

func TestExecute_BulkPayFillsInCallerOrder(t *testing.T) {
	svc, _ := setup(t, newAccount("a", "5.00"), newAccount("b", "10.00"))

	res, err := svc.Execute(context.Background(), domain.ActionRequest{
		Kind:       domain.ActionPay,
		AccountIDs: []string{"a", "b"},
		Amount:     "12.00",
	})
	require.NoError(t, err)
	require.Len(t, res.Actions, 2)

	assert.Equal(t, money.MustParse("5.00").Neg(), res.Actions[0].AmountAction)
	assert.Equal(t, money.MustParse("7.00").Neg(), res.Actions[1].AmountAction)
	assert.Equal(t, money.MustParse("3.00"), res.RemainingAmount)

	a := account(t, svc, "a")
	assert.True(t, a.Remaining.IsZero())
	assert.Equal(t, domain.StatusClosed, a.Status)
	assert.Equal(t, domain.PaymentPaidFully, a.PaymentStatus)

	b := account(t, svc, "b")
	assert.Equal(t, money.MustParse("3.00"), b.Remaining)
	assert.Equal(t, domain.StatusOpen, b.Status)
	assert.Equal(t, domain.PaymentPaidPartially, b.PaymentStatus)
}

func TestExecute_BulkSkipsAccountsThatReceiveNothing(t *testing.T) {
	svc, _ := setup(t, newAccount("a", "5.00"), newAccount("b", "10.00"))

	res, err := svc.Execute(context.Background(), domain.ActionRequest{
		Kind:       domain.ActionWaive,
		AccountIDs: []string{"a", "b"},
		Amount:     "2.00",
	})
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, "a", res.Actions[0].AccountID)
	assert.Equal(t, money.MustParse("13.00"), res.RemainingAmount)

	assert.Equal(t, money.MustParse("10.00"), account(t, svc, "b").Remaining)
}

func TestExecute_AmountAboveRemainingIsRejected(t *testing.T) {
	acc := newAccount("a", "15.00")
	acc.Remaining = money.MustParse("5.00")
	svc, _ := setup(t, acc)

	res, err := svc.Execute(context.Background(), domain.ActionRequest{
		Kind:       domain.ActionPay,
		AccountIDs: []string{"a"},
		Amount:     "6.00",
	})
	require.Error(t, err)
	assert.Nil(t, res)

	var aerr *service.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, service.KindFailedValidation, aerr.Kind)
	require.NotNil(t, aerr.Remaining)
	assert.Equal(t, "5.00", aerr.Remaining.String())

	assert.Equal(t, money.MustParse("5.00"), account(t, svc, "a").Remaining)
	history, err := svc.History(context.Background(), "a")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestExecute_Cancel(t *testing.T) {
	svc, _ := setup(t, newAccount("a", "20.00"))

	res, err := svc.Execute(context.Background(), domain.ActionRequest{
		Kind:       domain.ActionCancel,
		AccountIDs: []string{"a"},
		Comment:    "billed by mistake",
	})
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, money.MustParse("20.00").Neg(), res.Actions[0].AmountAction)
	assert.Equal(t, domain.PaymentCancelledAsError, res.Actions[0].TypeAction)

	got := account(t, svc, "a")
	assert.True(t, got.Remaining.IsZero())
	assert.Equal(t, domain.StatusClosed, got.Status)
	assert.Equal(t, domain.PaymentCancelledAsError, got.PaymentStatus)

	_, err = svc.Execute(context.Background(), domain.ActionRequest{Kind: domain.ActionCancel, AccountIDs: []string{"a"}})
	assert.True(t, service.IsKind(err, service.KindFailedValidation))
}

func TestExecute_RefundAfterPayment(t *testing.T) {
	svc, _ := setup(t, newAccount("a", "15.00"))
	ctx := context.Background()

	_, err := svc.Execute(ctx, domain.ActionRequest{Kind: domain.ActionPay, AccountIDs: []string{"a"}, Amount: "15.00"})
	require.NoError(t, err)
	paid := account(t, svc, "a")
	assert.Equal(t, domain.StatusClosed, paid.Status)
	assert.Equal(t, domain.PaymentPaidFully, paid.PaymentStatus)

	res, err := svc.Execute(ctx, domain.ActionRequest{Kind: domain.ActionRefund, AccountIDs: []string{"a"}, Amount: "6.00"})
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, money.MustParse("6.00"), res.Actions[0].AmountAction)
	assert.Equal(t, domain.PaymentRefundedPartially, res.Actions[0].TypeAction)

	got := account(t, svc, "a")
	assert.Equal(t, money.MustParse("6.00"), got.Remaining)
	assert.Equal(t, domain.StatusOpen, got.Status)
	assert.Equal(t, domain.PaymentRefundedPartially, got.PaymentStatus)

	// an empty amount refunds whatever is left
	res, err = svc.Execute(ctx, domain.ActionRequest{Kind: domain.ActionRefund, AccountIDs: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("9.00"), res.RequestedAmount)
	assert.Equal(t, domain.PaymentRefundedFully, account(t, svc, "a").PaymentStatus)

	_, err = svc.Execute(ctx, domain.ActionRequest{Kind: domain.ActionRefund, AccountIDs: []string{"a"}, Amount: "0.01"})
	assert.True(t, service.IsKind(err, service.KindFailedValidation))
}

func TestExecute_TransferRequiresTransferAccount(t *testing.T) {
	svc, _ := setup(t, newAccount("a", "15.00"))

	_, err := svc.Execute(context.Background(), domain.ActionRequest{Kind: domain.ActionTransfer, AccountIDs: []string{"a"}, Amount: "1.00"})
	assert.True(t, service.IsKind(err, service.KindFailedValidation))

	res, err := svc.Execute(context.Background(), domain.ActionRequest{
		Kind:            domain.ActionTransfer,
		AccountIDs:      []string{"a"},
		Amount:          "15.00",
		TransferAccount: "collections",
		PaymentMethod:   "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "collections", res.Actions[0].TransferAccount)
	assert.Empty(t, res.Actions[0].PaymentMethod)
	assert.Equal(t, domain.PaymentTransferredFully, res.Actions[0].TypeAction)
}

func TestExecute_DuplicateIDsAreCollapsed(t *testing.T) {
	svc, _ := setup(t, newAccount("a", "5.00"), newAccount("b", "5.00"))

	res, err := svc.Execute(context.Background(), domain.ActionRequest{
		Kind:       domain.ActionPay,
		AccountIDs: []string{"a", "a", "b"},
		Amount:     "10.00",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.AccountIDs)
}

func TestExecute_InvalidRequests(t *testing.T) {
	svc, _ := setup(t, newAccount("a", "5.00"))

	tests := []struct {
		name string
		req  domain.ActionRequest
		kind service.ErrorKind
	}{
		{"bad format", domain.ActionRequest{Kind: domain.ActionPay, AccountIDs: []string{"a"}, Amount: "1.234"}, service.KindInvalidAmountFormat},
		{"zero", domain.ActionRequest{Kind: domain.ActionPay, AccountIDs: []string{"a"}, Amount: "0"}, service.KindNonPositiveAmount},
		{"unknown account", domain.ActionRequest{Kind: domain.ActionPay, AccountIDs: []string{"a", "zzz"}, Amount: "1.00"}, service.KindAccountNotFound},
		{"no accounts", domain.ActionRequest{Kind: domain.ActionPay, Amount: "1.00"}, service.KindFailedValidation},
		{"unknown kind", domain.ActionRequest{Kind: "charge", AccountIDs: []string{"a"}, Amount: "1.00"}, service.KindFailedValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Execute(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, service.KindOf(err))
		})
	}

	assert.Equal(t, money.MustParse("5.00"), account(t, svc, "a").Remaining)
}

func TestExecute_ConcurrentPaymentsNeverOverdraw(t *testing.T) {
	svc, _ := setup(t, newAccount("a", "10.00"))

	const workers = 25
	var ok, rejected int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Execute(context.Background(), domain.ActionRequest{
				Kind:       domain.ActionPay,
				AccountIDs: []string{"a"},
				Amount:     "1.00",
			})
			if err == nil {
				atomic.AddInt64(&ok, 1)
				return
			}
			if service.IsKind(err, service.KindFailedValidation) {
				atomic.AddInt64(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), ok)
	assert.Equal(t, int64(workers-10), rejected)
	assert.True(t, account(t, svc, "a").Remaining.IsZero())
}

func TestExecute_ConcurrentFullPaymentsOnlyOneWins(t *testing.T) {
	svc, _ := setup(t, newAccount("a", "10.00"), newAccount("b", "10.00"))

	var ok int64
	var wg sync.WaitGroup
	wg.Add(2)
	for _, ids := range [][]string{{"a", "b"}, {"b", "a"}} {
		go func(ids []string) {
			defer wg.Done()
			if _, err := svc.Execute(context.Background(), domain.ActionRequest{
				Kind:       domain.ActionPay,
				AccountIDs: ids,
				Amount:     "20.00",
			}); err == nil {
				atomic.AddInt64(&ok, 1)
			}
		}(ids)
	}
	wg.Wait()

	assert.Equal(t, int64(1), ok)
}

func TestExecute_ConservationAcrossHistory(t *testing.T) {
	svc, _ := setup(t, newAccount("a", "30.00"), newAccount("b", "12.50"))
	ctx := context.Background()

	steps := []domain.ActionRequest{
		{Kind: domain.ActionPay, AccountIDs: []string{"a", "b"}, Amount: "7.25"},
		{Kind: domain.ActionWaive, AccountIDs: []string{"b"}, Amount: "2.00"},
		{Kind: domain.ActionRefund, AccountIDs: []string{"a"}, Amount: "3.00"},
		{Kind: domain.ActionTransfer, AccountIDs: []string{"b", "a"}, Amount: "12.00", TransferAccount: "city"},
		{Kind: domain.ActionCancel, AccountIDs: []string{"a"}},
	}
	for _, req := range steps {
		_, err := svc.Execute(ctx, req)
		require.NoError(t, err, req.Kind)
	}

	for _, id := range []string{"a", "b"} {
		acc := account(t, svc, id)
		history, err := svc.History(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, acc.Remaining, domain.Replay(acc.Amount, history), id)
		if len(history) > 0 {
			assert.Equal(t, acc.Remaining, history[len(history)-1].Balance, id)
		}
		assert.False(t, acc.Remaining.IsNegative())
		assert.True(t, acc.Remaining.Cmp(acc.Amount) <= 0)
	}
}

// brokenLedgerStore fails every ledger insert made inside a unit of work.
type brokenLedgerStore struct {
	*memory.Store
}

type brokenUoW struct{ service.UnitOfWork }

type brokenLedger struct{ service.LedgerStore }

func (brokenLedger) Insert(context.Context, []domain.Action) error {
	return errors.New("disk full")
}

func (u brokenUoW) Ledger() service.LedgerStore { return brokenLedger{u.UnitOfWork.Ledger()} }

func (s brokenLedgerStore) WithinTx(ctx context.Context, fn func(context.Context, service.UnitOfWork) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, uow service.UnitOfWork) error {
		return fn(ctx, brokenUoW{uow})
	})
}

func TestExecute_PersistenceFailureRollsBack(t *testing.T) {
	st := memory.New()
	st.Put(newAccount("a", "5.00"), newAccount("b", "5.00"))
	svc := service.NewActionService(brokenLedgerStore{st}, zap.NewNop())

	_, err := svc.Execute(context.Background(), domain.ActionRequest{
		Kind:       domain.ActionPay,
		AccountIDs: []string{"a", "b"},
		Amount:     "8.00",
	})
	require.Error(t, err)
	assert.Equal(t, service.KindPersistenceFailure, service.KindOf(err))
	assert.ErrorContains(t, err, "disk full")

	for _, id := range []string{"a", "b"} {
		acc, err := svc.Account(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, money.MustParse("5.00"), acc.Remaining)
		assert.Equal(t, domain.StatusOpen, acc.Status)
	}
}

func TestExecute_CancelledContextHasNoEffect(t *testing.T) {
	svc, _ := setup(t, newAccount("a", "5.00"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Execute(ctx, domain.ActionRequest{Kind: domain.ActionPay, AccountIDs: []string{"a"}, Amount: "1.00"})
	require.Error(t, err)
	assert.Equal(t, service.KindPersistenceFailure, service.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, money.MustParse("5.00"), account(t, svc, "a").Remaining)
}

func TestCheck(t *testing.T) {
	acc := newAccount("a", "15.00")
	acc.Remaining = money.MustParse("5.00")
	svc, _ := setup(t, acc)
	ctx := context.Background()

	req := domain.ActionRequest{Kind: domain.ActionPay, AccountIDs: []string{"a"}, Amount: "2.00"}
	first, err := svc.Check(ctx, req)
	require.NoError(t, err)
	second, err := svc.Check(ctx, req)
	require.NoError(t, err)

	assert.True(t, first.Allowed)
	assert.Equal(t, money.MustParse("3.00"), first.RemainingAmount)
	assert.Equal(t, first, second)
	assert.Equal(t, money.MustParse("5.00"), account(t, svc, "a").Remaining)

	res, err := svc.Check(ctx, domain.ActionRequest{Kind: domain.ActionPay, AccountIDs: []string{"a"}, Amount: "6.00"})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.NotEmpty(t, res.ErrorMessage)
	assert.Equal(t, money.MustParse("5.00"), res.RemainingAmount)

	res, err = svc.Check(ctx, domain.ActionRequest{Kind: domain.ActionPay, AccountIDs: []string{"a"}, Amount: "abc"})
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	_, err = svc.Check(ctx, domain.ActionRequest{Kind: domain.ActionPay, AccountIDs: []string{"nope"}, Amount: "1.00"})
	assert.True(t, service.IsKind(err, service.KindAccountNotFound))
}

func TestCheck_Refund(t *testing.T) {
	svc, _ := setup(t, newAccount("a", "15.00"))
	ctx := context.Background()

	res, err := svc.Check(ctx, domain.ActionRequest{Kind: domain.ActionRefund, AccountIDs: []string{"a"}, Amount: "1.00"})
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	_, err = svc.Execute(ctx, domain.ActionRequest{Kind: domain.ActionPay, AccountIDs: []string{"a"}, Amount: "4.00"})
	require.NoError(t, err)

	res, err = svc.Check(ctx, domain.ActionRequest{Kind: domain.ActionRefund, AccountIDs: []string{"a"}, Amount: "1.00"})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, money.MustParse("3.00"), res.RemainingAmount)
}

type recorder struct {
	mu       sync.Mutex
	events   []domain.Action
	notices  []domain.Action
	failWith error
}

func (r *recorder) Publish(_ context.Context, a domain.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, a)
	return r.failWith
}

func (r *recorder) Notify(_ context.Context, a domain.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, a)
	return r.failWith
}

func TestExecute_PostCommitHooks(t *testing.T) {
	st := memory.New()
	st.Put(newAccount("a", "5.00"), newAccount("b", "5.00"))
	rec := &recorder{}
	svc := service.NewActionService(st, zap.NewNop(), service.WithEventPublisher(rec), service.WithNotifier(rec))

	_, err := svc.Execute(context.Background(), domain.ActionRequest{
		Kind:         domain.ActionPay,
		AccountIDs:   []string{"a", "b"},
		Amount:       "7.00",
		NotifyPatron: true,
	})
	require.NoError(t, err)
	_, err = svc.Execute(context.Background(), domain.ActionRequest{
		Kind:       domain.ActionWaive,
		AccountIDs: []string{"b"},
		Amount:     "1.00",
	})
	require.NoError(t, err)
	svc.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.events, 3)
	assert.Len(t, rec.notices, 2)
}

func TestExecute_PublishFailureDoesNotUndoAction(t *testing.T) {
	st := memory.New()
	st.Put(newAccount("a", "5.00"))
	rec := &recorder{failWith: errors.New("broker down")}
	svc := service.NewActionService(st, zap.NewNop(), service.WithEventPublisher(rec), service.WithNotifier(rec))

	res, err := svc.Execute(context.Background(), domain.ActionRequest{
		Kind:         domain.ActionPay,
		AccountIDs:   []string{"a"},
		Amount:       "5.00",
		NotifyPatron: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	svc.Wait()

	acc, err := svc.Account(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, acc.Remaining.IsZero())
}

func TestExecute_AfterWaitSkipsHooks(t *testing.T) {
	st := memory.New()
	st.Put(newAccount("a", "5.00"))
	rec := &recorder{}
	svc := service.NewActionService(st, zap.NewNop(), service.WithEventPublisher(rec))

	svc.Wait()

	_, err := svc.Execute(context.Background(), domain.ActionRequest{Kind: domain.ActionPay, AccountIDs: []string{"a"}, Amount: "1.00"})
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("4.00"), account(t, svc, "a").Remaining)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.events)
}

func TestWait_ConcurrentWithExecute(t *testing.T) {
	st := memory.New()
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		st.Put(newAccount(id, "10.00"))
	}
	rec := &recorder{}
	svc := service.NewActionService(st, zap.NewNop(), service.WithEventPublisher(rec))

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.Execute(context.Background(), domain.ActionRequest{Kind: domain.ActionPay, AccountIDs: []string{id}, Amount: "1.00"})
			assert.NoError(t, err)
		}(id)
	}
	svc.Wait()
	wg.Wait()

	// every hook that was scheduled before Wait returned has finished
	rec.mu.Lock()
	published := len(rec.events)
	rec.mu.Unlock()
	assert.LessOrEqual(t, published, 8)
}

func TestAccountAndHistory_NotFound(t *testing.T) {
	svc, _ := setup(t)

	_, err := svc.Account(context.Background(), "missing")
	assert.True(t, service.IsKind(err, service.KindAccountNotFound))

	_, err = svc.History(context.Background(), "missing")
	assert.True(t, service.IsKind(err, service.KindAccountNotFound))
}
