package models

import "github.com/punchamoorthee/feefineops/internal/domain"

// ActionRequest is the payload for single-account action endpoints.
type ActionRequest struct {
	Amount          string `json:"amount"`
	NotifyPatron    bool   `json:"notifyPatron"`
	ServicePointID  string `json:"servicePointId"`
	UserName        string `json:"userName"`
	PaymentMethod   string `json:"paymentMethod"`
	TransferAccount string `json:"transferAccount"`
	Comments        string `json:"comments"`
}

// BulkActionRequest is the payload for the accounts-bulk endpoints.
type BulkActionRequest struct {
	ActionRequest
	AccountIDs []string `json:"accountIds"`
}

// CheckRequest is the payload of check-* endpoints.
type CheckRequest struct {
	Amount     string   `json:"amount"`
	AccountIDs []string `json:"accountIds,omitempty"`
}

// ToDomain converts the payload into an engine request for the given accounts.
func (r ActionRequest) ToDomain(kind domain.ActionKind, accountIDs []string) domain.ActionRequest {
	return domain.ActionRequest{
		Kind:            kind,
		AccountIDs:      accountIDs,
		Amount:          r.Amount,
		TransferAccount: r.TransferAccount,
		PaymentMethod:   r.PaymentMethod,
		NotifyPatron:    r.NotifyPatron,
		Comment:         r.Comments,
		ServicePointID:  r.ServicePointID,
		UserName:        r.UserName,
	}
}

// ActionResponse is the canonical response for a committed action.
type ActionResponse struct {
	AccountID       string          `json:"accountId,omitempty"`
	AccountIDs      []string        `json:"accountIds,omitempty"`
	Amount          string          `json:"amount"`
	RemainingAmount string          `json:"remainingAmount,omitempty"`
	FeeFineActions  []domain.Action `json:"feefineactions"`
}

// CheckResponse is the response of check-* endpoints.
type CheckResponse struct {
	AccountID       string   `json:"accountId,omitempty"`
	AccountIDs      []string `json:"accountIds,omitempty"`
	Amount          string   `json:"amount"`
	Allowed         bool     `json:"allowed"`
	RemainingAmount string   `json:"remainingAmount,omitempty"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
}

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	Error           string `json:"error"`
	Kind            string `json:"kind,omitempty"`
	RemainingAmount string `json:"remainingAmount,omitempty"`
}
