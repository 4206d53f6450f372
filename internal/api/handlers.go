package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/punchamoorthee/feefineops/internal/domain"
	"github.com/punchamoorthee/feefineops/internal/models"
	"github.com/punchamoorthee/feefineops/internal/money"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{accountId}"

	account, err := h.svc.Account(r.Context(), mux.Vars(r)["accountId"])
	if err != nil {
		h.respondError(w, r, endpoint, err)
		return
	}
	respond(w, r.Method, endpoint, http.StatusOK, account)
}

func (h *Handler) GetAccountActionsHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{accountId}/actions"

	actions, err := h.svc.History(r.Context(), mux.Vars(r)["accountId"])
	if err != nil {
		h.respondError(w, r, endpoint, err)
		return
	}
	if actions == nil {
		actions = []domain.Action{}
	}
	respond(w, r.Method, endpoint, http.StatusOK, map[string]any{
		"feefineactions": actions,
		"totalRecords":   len(actions),
	})
}

func endpointFor(prefix string, kind domain.ActionKind, bulk bool) string {
	if bulk {
		return "/accounts-bulk/" + prefix + string(kind)
	}
	return "/accounts/{accountId}/" + prefix + string(kind)
}

// amountRequired reports whether the HTTP surface insists on an explicit amount.
func amountRequired(kind domain.ActionKind) bool {
	switch kind {
	case domain.ActionPay, domain.ActionWaive, domain.ActionTransfer:
		return true
	}
	return false
}

// decode reads a JSON body; an empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) checkHandler(kind domain.ActionKind, bulk bool) http.HandlerFunc {
	endpoint := endpointFor("check-", kind, bulk)

	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		var req models.CheckRequest
		if err := decode(r, &req); err != nil {
			respondWithError(w, r.Method, endpoint, http.StatusBadRequest, "Malformed JSON body")
			return
		}

		ids := req.AccountIDs
		if !bulk {
			ids = []string{mux.Vars(r)["accountId"]}
		}
		if len(ids) == 0 {
			respondWithError(w, r.Method, endpoint, http.StatusUnprocessableEntity, "accountIds must not be empty")
			return
		}
		if req.Amount == "" && amountRequired(kind) {
			respondWithError(w, r.Method, endpoint, http.StatusUnprocessableEntity, "amount is required")
			return
		}

		res, err := h.svc.Check(r.Context(), domain.ActionRequest{Kind: kind, AccountIDs: ids, Amount: req.Amount})
		if err != nil {
			h.respondError(w, r, endpoint, err)
			return
		}

		resp := models.CheckResponse{
			Amount:       res.Amount,
			Allowed:      res.Allowed,
			ErrorMessage: res.ErrorMessage,
		}
		if bulk {
			resp.AccountIDs = res.AccountIDs
		} else {
			resp.AccountID = ids[0]
		}

		code := http.StatusOK
		if !res.Allowed {
			code = http.StatusUnprocessableEntity
		}
		if res.Allowed || res.RemainingAmount != money.Zero {
			resp.RemainingAmount = res.RemainingAmount.String()
		}
		respond(w, r.Method, endpoint, code, resp)
	}
}

func (h *Handler) actionHandler(kind domain.ActionKind, bulk bool) http.HandlerFunc {
	endpoint := endpointFor("", kind, bulk)

	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		var req models.BulkActionRequest
		if err := decode(r, &req); err != nil {
			respondWithError(w, r.Method, endpoint, http.StatusBadRequest, "Malformed JSON body")
			return
		}

		ids := req.AccountIDs
		if !bulk {
			ids = []string{mux.Vars(r)["accountId"]}
		}
		if len(ids) == 0 {
			respondWithError(w, r.Method, endpoint, http.StatusUnprocessableEntity, "accountIds must not be empty")
			return
		}
		if req.Amount == "" && amountRequired(kind) {
			respondWithError(w, r.Method, endpoint, http.StatusUnprocessableEntity, "amount is required")
			return
		}

		res, err := h.svc.Execute(r.Context(), req.ToDomain(kind, ids))
		if err != nil {
			h.respondError(w, r, endpoint, err)
			return
		}

		respond(w, r.Method, endpoint, http.StatusCreated, actionResponse(res, bulk))
	}
}

// actionResponse shapes a committed result for the wire.
func actionResponse(res *domain.ActionResult, bulk bool) models.ActionResponse {
	resp := models.ActionResponse{
		Amount:         res.RequestedAmount.String(),
		FeeFineActions: res.Actions,
	}
	if resp.FeeFineActions == nil {
		resp.FeeFineActions = []domain.Action{}
	}

	if bulk {
		resp.AccountIDs = res.AccountIDs
	} else if len(res.AccountIDs) > 0 {
		resp.AccountID = res.AccountIDs[0]
	}

	switch res.Kind {
	case domain.ActionPay, domain.ActionWaive, domain.ActionTransfer, domain.ActionCancel:
		resp.RemainingAmount = res.RemainingAmount.String()
	case domain.ActionRefund:
		// refunds restore balances; the caller reads them from the actions.
	}

	return resp
}
