package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/models"
	"github.com/punchamoorthee/refledger/internal/service"
	"go.uber.org/zap"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	engine  *service.Engine
	logger  *zap.Logger
	storage string
}

func NewHandler(engine *service.Engine, logger *zap.Logger, storage string) *Handler {
	return &Handler{engine: engine, logger: logger, storage: storage}
}

// Router mounts every route under /api/v1 plus /health and /metrics.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/members", h.RegisterMemberHandler).Methods(http.MethodPost)
	v1.HandleFunc("/members/{id}", h.GetMemberHandler).Methods(http.MethodGet)
	v1.HandleFunc("/members/{id}/status", h.SetStatusHandler).Methods(http.MethodPut)
	v1.HandleFunc("/members/{id}/wallet", h.GetWalletHandler).Methods(http.MethodGet)
	v1.HandleFunc("/members/{id}/entries", h.GetEntriesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/members/{id}/income", h.GetIncomeHandler).Methods(http.MethodGet)
	v1.HandleFunc("/members/{id}/team", h.GetTeamHandler).Methods(http.MethodGet)
	v1.HandleFunc("/members/{id}/edges", h.GetEdgesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/members/{id}/withdrawals", h.GetMemberWithdrawalsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/members/{id}/withdrawals/stats", h.GetWithdrawalStatsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/members/{id}/projection", h.GetProjectionHandler).Methods(http.MethodGet)
	v1.HandleFunc("/members/{id}/locks", h.LockBalanceHandler).Methods(http.MethodPost)
	v1.HandleFunc("/members/{id}/unlocks", h.UnlockBalanceHandler).Methods(http.MethodPost)

	v1.HandleFunc("/investments", h.CreateInvestmentHandler).Methods(http.MethodPost)

	v1.HandleFunc("/withdrawals", h.CreateWithdrawalHandler).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals", h.ListWithdrawalsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/withdrawals/{id}", h.GetWithdrawalHandler).Methods(http.MethodGet)
	v1.HandleFunc("/withdrawals/{id}/approve", h.ApproveWithdrawalHandler).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals/{id}/complete", h.CompleteWithdrawalHandler).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals/{id}/reject", h.RejectWithdrawalHandler).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals/{id}/cancel", h.CancelWithdrawalHandler).Methods(http.MethodPost)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument labels metrics with the route template so ids do not explode cardinality.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		if endpoint == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed),
		)
	})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMemberNotFound),
		errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrWithdrawalNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrMemberExists),
		errors.Is(err, domain.ErrAlreadyLinked):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case domain.IsBusinessError(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func errorCode(err error) string {
	var ge *domain.GraphError
	var le *domain.LedgerError
	var we *domain.WithdrawalError
	switch {
	case errors.As(err, &we):
		return string(we.Code)
	case errors.As(err, &le):
		return string(le.Code)
	case errors.As(err, &ge):
		return string(ge.Code)
	case errors.Is(err, domain.ErrIdempotencyMismatch):
		return "idempotency_mismatch"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "storage_unavailable"
	}
	return ""
}

func (h *Handler) respondWithEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "Internal Server Error"
	} else if code == http.StatusServiceUnavailable {
		msg = "Storage temporarily unavailable"
	}
	respondWithJSON(w, code, models.ErrorResponse{Error: msg, Code: errorCode(err)})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
