package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/feefineops/internal/domain"
	"github.com/punchamoorthee/feefineops/internal/models"
	"github.com/punchamoorthee/feefineops/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feefine_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feefine_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// ActionService is the engine surface the handlers depend on.
type ActionService interface {
	Check(ctx context.Context, req domain.ActionRequest) (*domain.CheckResult, error)
	Execute(ctx context.Context, req domain.ActionRequest) (*domain.ActionResult, error)
	Account(ctx context.Context, id string) (*domain.Account, error)
	History(ctx context.Context, id string) ([]domain.Action, error)
}

type Handler struct {
	svc    ActionService
	logger *zap.Logger
}

func NewHandler(svc ActionService, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts every fee/fine endpoint on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{accountId}", h.GetAccountHandler).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{accountId}/actions", h.GetAccountActionsHandler).Methods(http.MethodGet)

	for _, kind := range domain.ActionKinds {
		if kind != domain.ActionCancel {
			r.HandleFunc("/accounts/{accountId}/check-"+string(kind), h.checkHandler(kind, false)).Methods(http.MethodPost)
			r.HandleFunc("/accounts-bulk/check-"+string(kind), h.checkHandler(kind, true)).Methods(http.MethodPost)
		}
		r.HandleFunc("/accounts/{accountId}/"+string(kind), h.actionHandler(kind, false)).Methods(http.MethodPost)
		r.HandleFunc("/accounts-bulk/"+string(kind), h.actionHandler(kind, true)).Methods(http.MethodPost)
	}
}

// respondError maps an engine failure onto a status code.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	body := models.ErrorResponse{Error: err.Error(), Kind: string(service.KindOf(err))}

	var code int
	switch service.KindOf(err) {
	case service.KindAccountNotFound:
		code = http.StatusNotFound
	case service.KindInvalidAmountFormat, service.KindNonPositiveAmount, service.KindFailedValidation:
		code = http.StatusUnprocessableEntity
	case service.KindPersistenceFailure:
		code = http.StatusServiceUnavailable
		body.Error = "The action could not be saved, please retry"
	default:
		code = http.StatusInternalServerError
		body.Error = "Internal Server Error"
	}

	var aerr *service.Error
	if errors.As(err, &aerr) {
		if code != http.StatusInternalServerError && code != http.StatusServiceUnavailable {
			body.Error = aerr.Message
		}
		if aerr.Remaining != nil {
			body.RemainingAmount = aerr.Remaining.String()
		}
	}

	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("method", r.Method), zap.String("endpoint", endpoint), zap.Error(err))
	}

	respond(w, r.Method, endpoint, code, body)
}

func respondWithError(w http.ResponseWriter, method, endpoint string, code int, message string) {
	respond(w, method, endpoint, code, models.ErrorResponse{Error: message})
}

func respond(w http.ResponseWriter, method, endpoint string, code int, payload interface{}) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
