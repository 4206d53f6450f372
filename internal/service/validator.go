package service

import (
	"fmt"

	"github.com/punchamoorthee/feefineops/internal/domain"
	"github.com/punchamoorthee/feefineops/internal/money"
)

// target is an account participating in an action together with how much the action may apply to it.
type target struct {
	account  domain.Account
	capacity money.Amount
}

// validation is the outcome of a feasible action.
type validation struct {
	kind    domain.ActionKind
	targets []target
	// applied is the amount that will be distributed; total capacity when all is set.
	applied money.Amount
	all     bool
	// available is the total capacity before the action.
	available money.Amount
}

// remainingAfter is the payable (or refundable, for Refund) total left once the action is applied.
func (v validation) remainingAfter() money.Amount {
	return v.available.Sub(v.applied)
}

// parseAmount turns the request amount into a fixed-point value. A nil result means
// "everything eligible". Cancel ignores any amount given.
func parseAmount(kind domain.ActionKind, raw string) (*money.Amount, error) {
	if kind == domain.ActionCancel || raw == "" {
		return nil, nil
	}

	amount, err := money.Parse(raw)
	if err != nil {
		return nil, &Error{Kind: KindInvalidAmountFormat, Message: fmt.Sprintf("invalid amount entered: %q", raw), Err: err}
	}
	if !amount.IsPositive() {
		return nil, newError(KindNonPositiveAmount, "amount must be positive")
	}

	return &amount, nil
}

// validate decides whether kind can be applied to the accounts named by ids, in that order.
// history is only consulted for Refund and must hold the ledger entries of those accounts.
func validate(kind domain.ActionKind, ids []string, accounts []domain.Account, history []domain.Action, amount *money.Amount) (validation, error) {
	byID := make(map[string]domain.Account, len(accounts))
	for _, acc := range accounts {
		byID[acc.ID] = acc
	}

	v := validation{kind: kind, targets: make([]target, 0, len(ids))}
	for _, id := range ids {
		acc, ok := byID[id]
		if !ok {
			return validation{}, newError(KindAccountNotFound, fmt.Sprintf("fee/fine account %s was not found", id))
		}
		v.targets = append(v.targets, target{account: acc})
	}

	switch kind {
	case domain.ActionPay, domain.ActionWaive, domain.ActionTransfer:
		return validateReduction(v, amount)
	case domain.ActionRefund:
		return validateRefund(v, history, amount)
	case domain.ActionCancel:
		return validateCancel(v)
	}

	return validation{}, failedValidation(fmt.Sprintf("unsupported action %q", kind), money.Zero)
}

func validateReduction(v validation, amount *money.Amount) (validation, error) {
	for i := range v.targets {
		v.targets[i].capacity = v.targets[i].account.Remaining
		v.available = v.available.Add(v.targets[i].capacity)
	}

	for _, t := range v.targets {
		if t.account.Status == domain.StatusClosed {
			return validation{}, failedValidation(fmt.Sprintf("fee/fine account %s is closed", t.account.ID), v.available)
		}
	}

	if amount == nil {
		if !v.available.IsPositive() {
			return validation{}, failedValidation("nothing remains to be "+pastTense(v.kind), v.available)
		}
		v.applied, v.all = v.available, true
		return v, nil
	}

	if amount.Cmp(v.available) > 0 {
		return validation{}, failedValidation(fmt.Sprintf("requested amount exceeds remaining amount %s", v.available), v.available)
	}

	v.applied = *amount
	return v, nil
}

func validateRefund(v validation, history []domain.Action, amount *money.Amount) (validation, error) {
	perAccount := make(map[string][]domain.Action, len(v.targets))
	for _, a := range history {
		perAccount[a.AccountID] = append(perAccount[a.AccountID], a)
	}

	for i := range v.targets {
		v.targets[i].capacity = domain.Refundable(perAccount[v.targets[i].account.ID])
		v.available = v.available.Add(v.targets[i].capacity)
	}

	if !v.available.IsPositive() {
		return validation{}, failedValidation("nothing has been paid or waived that could be refunded", v.available)
	}

	if amount == nil {
		v.applied, v.all = v.available, true
		return v, nil
	}

	if amount.Cmp(v.available) > 0 {
		return validation{}, failedValidation(fmt.Sprintf("requested amount exceeds refundable amount %s", v.available), v.available)
	}

	v.applied = *amount
	return v, nil
}

func validateCancel(v validation) (validation, error) {
	for i := range v.targets {
		acc := v.targets[i].account
		if acc.Status == domain.StatusClosed || !acc.Remaining.IsPositive() {
			return validation{}, failedValidation(fmt.Sprintf("fee/fine account %s has nothing to cancel", acc.ID), money.Zero)
		}
		v.targets[i].capacity = acc.Remaining
		v.available = v.available.Add(acc.Remaining)
	}

	v.applied, v.all = v.available, true
	return v, nil
}

func pastTense(kind domain.ActionKind) string {
	switch kind {
	case domain.ActionPay:
		return "paid"
	case domain.ActionWaive:
		return "waived"
	}
	return "transferred"
}
