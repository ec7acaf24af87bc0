package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/auth"
	"github.com/IlyasAtabaev731/movement-ledger/internal/config"
	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/movement-ledger/internal/service/ledger"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type Movements interface {
	Authenticate(ctx context.Context, token string) (models.Identity, error)
	RecordMovement(ctx context.Context, token string, amount decimal.Decimal, kind string) (*models.Transaction, error)
	ListMovements(ctx context.Context, token string, start, end time.Time) ([]models.Transaction, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type ctxKey struct{}

var tokenKey ctxKey

type APIServer struct {
	config      *config.Config
	logger      *slog.Logger
	server      *http.Server
	movements   Movements
	health      Pinger
	idempotency IdempotencyStore
}

// New builds the server. idempotency may be nil, in which case Idempotency-Key is ignored.
func New(config *config.Config, logger *slog.Logger, movements Movements, health Pinger, idempotency IdempotencyStore) *APIServer {
	return &APIServer{
		config: config,
		logger: logger,
		server: &http.Server{
			Addr:              config.ApiHost + ":" + strconv.Itoa(config.ApiPort),
			ReadHeaderTimeout: 5 * time.Second,
		},
		movements:   movements,
		health:      health,
		idempotency: idempotency,
	}
}

func (s *APIServer) Start() error {
	s.logger.Info("Starting server", slog.String("port", strconv.Itoa(s.config.ApiPort)))

	s.configureRouter()

	return s.server.ListenAndServe()
}

func (s *APIServer) MustStart() {
	err := s.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic("Failed to start server: " + err.Error())
	}
}

func (s *APIServer) Stop(ctx context.Context) error {
	defer s.logger.Info("Server successfully stopped")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) configureRouter() {
	s.server.Handler = s.router()
}

func (s *APIServer) router() http.Handler {
	router := mux.NewRouter()
	router.Handle("/api/movements", s.withIdempotency(s.authenticate(s.recordMovementHandler()))).Methods("POST")
	router.HandleFunc("/api/movements", s.authenticate(s.listMovementsHandler())).Methods("GET")
	router.HandleFunc("/api/movements/report", s.authenticate(s.reportHandler())).Methods("POST")
	router.HandleFunc("/healthz/ready", s.readyHandler()).Methods("GET")
	return router
}

func (s *APIServer) withIdempotency(next http.HandlerFunc) http.Handler {
	if s.idempotency == nil {
		return next
	}
	return Idempotency(s.idempotency, s.movements.Authenticate, s.logger)(next)
}

// authenticate only extracts the credential. Verification happens in the ledger service.
func (s *APIServer) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or malformed credential")
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), tokenKey, token))
		next(w, r)
	}
}

func tokenFrom(r *http.Request) string {
	token, _ := r.Context().Value(tokenKey).(string)
	return token
}

type MovementRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Type   string           `json:"type"`
}

type ListResponse struct {
	Transactions []models.Transaction `json:"transactions"`
}

type ReportRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type ErrorResponse struct {
	Errors string `json:"errors"`
}

func (s *APIServer) recordMovementHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MovementRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount == nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		tx, err := s.movements.RecordMovement(r.Context(), tokenFrom(r), *req.Amount, req.Type)
		if err != nil {
			s.respondError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, tx)
	}
}

func (s *APIServer) listMovementsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		start, err := time.Parse(time.RFC3339, query.Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be an RFC3339 timestamp")
			return
		}
		end, err := time.Parse(time.RFC3339, query.Get("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be an RFC3339 timestamp")
			return
		}

		s.listMovements(w, r, start, end)
	}
}

func (s *APIServer) reportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		s.listMovements(w, r, req.Start, req.End)
	}
}

func (s *APIServer) listMovements(w http.ResponseWriter, r *http.Request, start, end time.Time) {
	transactions, err := s.movements.ListMovements(r.Context(), tokenFrom(r), start, end)
	if err != nil {
		s.respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{Transactions: transactions})
}

func (s *APIServer) readyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.health.Ping(ctx); err != nil {
			s.logger.Warn("Readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

func (s *APIServer) respondError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if errors.Is(err, ledger.ErrBalanceUpdateFailed) || errors.Is(err, ledger.ErrLedgerWriteFailed) {
		markMutated(w)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", slog.Int("status", status), "error", err)
	}
	writeError(w, status, message)
}

// statusFor maps a ledger failure to a response code and a message safe to show the caller.
func statusFor(err error) (int, string) {
	var insufficient *ledger.InsufficientFundsError
	switch {
	case errors.Is(err, ledger.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "invalid or expired credential"
	case errors.As(err, &insufficient):
		return http.StatusBadRequest, insufficient.Error()
	case errors.Is(err, ledger.ErrInvalidTransactionKind):
		return http.StatusBadRequest, "type must be credit or debit"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, ledger.ErrInvalidAmount.Error()
	case errors.Is(err, ledger.ErrInvalidRange):
		return http.StatusBadRequest, ledger.ErrInvalidRange.Error()
	case errors.Is(err, ledger.ErrVerifierUnavailable):
		return http.StatusBadGateway, ledger.ErrVerifierUnavailable.Error()
	case errors.Is(err, ledger.ErrBalanceUnavailable):
		return http.StatusBadGateway, ledger.ErrBalanceUnavailable.Error()
	case errors.Is(err, ledger.ErrBalanceUpdateFailed):
		return http.StatusBadGateway, ledger.ErrBalanceUpdateFailed.Error()
	case errors.Is(err, ledger.ErrLedgerWriteFailed):
		return http.StatusBadGateway, "balance updated but the movement was not recorded; it will be reconciled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Errors: message})
}
