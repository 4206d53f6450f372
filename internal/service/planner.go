package service

import "github.com/punchamoorthee/feefineops/internal/money"

// allocation is the share of an action applied to one account.
type allocation struct {
	accountID string
	amount    money.Amount
}

// plan walks targets in caller order and fills each one up to its capacity until
// amount is exhausted. Accounts that receive nothing are left out of the plan.
// An amount larger than the total capacity is an internal fault and panics.
func plan(amount money.Amount, targets []target) []allocation {
	allocs := make([]allocation, 0, len(targets))
	left := amount

	for _, t := range targets {
		if left.IsZero() {
			break
		}
		share := money.Min(left, t.capacity)
		if !share.IsPositive() {
			continue
		}
		allocs = append(allocs, allocation{accountID: t.account.ID, amount: share})
		left = left.Sub(share)
	}

	if !left.IsZero() {
		panic(distributionOverrun{requested: amount, leftover: left})
	}

	return allocs
}

// planAll applies each target's full capacity.
func planAll(targets []target) []allocation {
	allocs := make([]allocation, 0, len(targets))
	for _, t := range targets {
		if t.capacity.IsPositive() {
			allocs = append(allocs, allocation{accountID: t.account.ID, amount: t.capacity})
		}
	}
	return allocs
}

func (v validation) plan() []allocation {
	if v.all {
		return planAll(v.targets)
	}
	return plan(v.applied, v.targets)
}
