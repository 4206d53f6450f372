package domain

import (
	"time"

	"github.com/punchamoorthee/feefineops/internal/money"
)

// Status is the open/closed state of a fee/fine account.
type Status string

const (
	StatusOpen   Status = "Open"
	StatusClosed Status = "Closed"
)

// ActionKind is the financial action applied to accounts.
type ActionKind string

const (
	ActionPay      ActionKind = "pay"
	ActionWaive    ActionKind = "waive"
	ActionTransfer ActionKind = "transfer"
	ActionRefund   ActionKind = "refund"
	ActionCancel   ActionKind = "cancel"
)

// ActionKinds lists every kind in a stable order.
var ActionKinds = []ActionKind{ActionPay, ActionWaive, ActionTransfer, ActionRefund, ActionCancel}

func (k ActionKind) IsValid() bool {
	switch k {
	case ActionPay, ActionWaive, ActionTransfer, ActionRefund, ActionCancel:
		return true
	}
	return false
}

// Reduces reports whether the action lowers the remaining balance.
func (k ActionKind) Reduces() bool {
	return k != ActionRefund
}

// Payment status labels. Action type labels use the same strings.
const (
	PaymentOutstanding          = "Outstanding"
	PaymentPaidPartially        = "Paid Partially"
	PaymentPaidFully            = "Paid Fully"
	PaymentWaivedPartially      = "Waived Partially"
	PaymentWaivedFully          = "Waived Fully"
	PaymentTransferredPartially = "Transferred Partially"
	PaymentTransferredFully     = "Transferred Fully"
	PaymentRefundedPartially    = "Refunded Partially"
	PaymentRefundedFully        = "Refunded Fully"
	PaymentCancelledAsError     = "Cancelled as error"
)

// PaymentLabel returns the payment status label for an action kind.
// Cancel has a single label regardless of full.
func PaymentLabel(kind ActionKind, full bool) string {
	switch kind {
	case ActionPay:
		if full {
			return PaymentPaidFully
		}
		return PaymentPaidPartially
	case ActionWaive:
		if full {
			return PaymentWaivedFully
		}
		return PaymentWaivedPartially
	case ActionTransfer:
		if full {
			return PaymentTransferredFully
		}
		return PaymentTransferredPartially
	case ActionRefund:
		if full {
			return PaymentRefundedFully
		}
		return PaymentRefundedPartially
	case ActionCancel:
		return PaymentCancelledAsError
	}
	return PaymentOutstanding
}

// StatusFor derives the account status from its remaining balance.
func StatusFor(remaining money.Amount) Status {
	if remaining.IsPositive() {
		return StatusOpen
	}
	return StatusClosed
}

// Account is a single fee/fine obligation owed by a patron.
// Invariant: 0 <= Remaining <= Amount and Remaining == 0 implies StatusClosed.
type Account struct {
	ID            string       `json:"id"`
	UserID        string       `json:"userId"`
	ItemID        string       `json:"itemId,omitempty"`
	OwnerID       string       `json:"ownerId"`
	FeeFineID     string       `json:"feeFineId"`
	FeeFineType   string       `json:"feeFineType,omitempty"`
	Amount        money.Amount `json:"amount"`
	Remaining     money.Amount `json:"remaining"`
	Status        Status       `json:"status"`
	PaymentStatus string       `json:"paymentStatus"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Action is one immutable ledger entry applied to one account.
// AmountAction is signed: negative reduces remaining, positive restores it.
type Action struct {
	ID              string       `json:"id"`
	AccountID       string       `json:"accountId"`
	UserID          string       `json:"userId"`
	Kind            ActionKind   `json:"kind"`
	TypeAction      string       `json:"typeAction"`
	AmountAction    money.Amount `json:"amountAction"`
	Balance         money.Amount `json:"balance"`
	DateAction      time.Time    `json:"dateAction"`
	PaymentMethod   string       `json:"paymentMethod,omitempty"`
	TransferAccount string       `json:"transferAccount,omitempty"`
	Comment         string       `json:"comments,omitempty"`
	Notify          bool         `json:"notify"`
	Source          string       `json:"source,omitempty"`
	ServicePointID  string       `json:"servicePointId,omitempty"`
}

// ActionRequest asks for one financial action against one or more accounts.
// An empty Amount means "everything eligible".
type ActionRequest struct {
	Kind            ActionKind
	AccountIDs      []string
	Amount          string
	TransferAccount string
	PaymentMethod   string
	NotifyPatron    bool
	Comment         string
	ServicePointID  string
	UserName        string
}

// ActionResult describes a committed action.
type ActionResult struct {
	Kind            ActionKind   `json:"-"`
	RequestedAmount money.Amount `json:"amount"`
	// RemainingAmount is the total left across every requested account after the
	// action: payable for Pay/Waive/Transfer/Cancel, refundable for Refund.
	RemainingAmount money.Amount `json:"remainingAmount"`
	AccountIDs      []string     `json:"accountIds"`
	Actions         []Action     `json:"feefineactions"`
}

// CheckResult is the outcome of a dry-run feasibility check.
type CheckResult struct {
	AccountIDs      []string     `json:"accountIds"`
	Amount          string       `json:"amount"`
	Allowed         bool         `json:"allowed"`
	RemainingAmount money.Amount `json:"remainingAmount"`
	ErrorMessage    string       `json:"errorMessage,omitempty"`
}

// Replay folds an account's ledger history, oldest first, into its remaining balance.
func Replay(amount money.Amount, history []Action) money.Amount {
	remaining := amount
	for _, a := range history {
		remaining = remaining.Add(a.AmountAction)
	}
	return remaining
}

// Refundable returns the paid or waived total not yet refunded.
func Refundable(history []Action) money.Amount {
	var total money.Amount
	for _, a := range history {
		switch a.Kind {
		case ActionPay, ActionWaive, ActionRefund:
			total = total.Sub(a.AmountAction)
		}
	}
	return total
}
