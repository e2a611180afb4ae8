package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/thechillpixel0/tallyra/internal/calculator"
	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/logger"
	"github.com/thechillpixel0/tallyra/internal/service"
	"github.com/thechillpixel0/tallyra/internal/store"
	"github.com/thechillpixel0/tallyra/internal/validator"
)

type Options struct {
	AllowedOrigin          string
	LoginAttemptsPerMinute int
	ResetDelay             time.Duration
	Logger                 zerolog.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	workflows     *workflowRegistry
	log           zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.LoginAttemptsPerMinute < 1 {
		opts.LoginAttemptsPerMinute = 10
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	api := &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(opts.LoginAttemptsPerMinute, time.Minute),
		log:           opts.Logger.With().Str("component", "httpapi").Logger(),
	}
	api.workflows = newWorkflowRegistry(func(ctx context.Context, session domain.Session) (*calculator.Workflow, error) {
		shop, err := svc.GetShop(ctx, session.ShopID)
		if err != nil {
			return nil, err
		}
		return calculator.NewWorkflow(session, shop, svc, svc, calculator.Options{
			Engine:     svc.Engine(),
			ResetDelay: opts.ResetDelay,
			Logger:     opts.Logger,
		}), nil
	})
	return api
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Post("/auth/logout", a.handleLogout)
			r.Post("/inference", a.handleInference)
			r.Get("/transactions", a.handleTransactions)

			r.Route("/items", func(r chi.Router) {
				r.Get("/", a.handleListItems)
				r.Get("/low-stock", a.handleLowStock)
				r.With(requireOwner).Post("/", a.handleCreateItem)
				r.With(requireOwner).Patch("/{id}", a.handleUpdateItem)
				r.With(requireOwner).Post("/{id}/stock", a.handleAdjustStock)
				r.With(requireOwner).Get("/{id}/movements", a.handleItemMovements)
			})

			r.Route("/staff", func(r chi.Router) {
				r.Use(requireOwner)
				r.Get("/", a.handleListStaff)
				r.Post("/", a.handleCreateStaff)
				r.Patch("/{id}", a.handleUpdateStaff)
			})

			r.Route("/calculator", func(r chi.Router) {
				r.Get("/", a.handleCalculatorState)
				r.Post("/keys", a.handleKeys)
				r.Post("/confirm", a.handleConfirm)
				r.Post("/proceed", a.handleProceed)
				r.Post("/select-item", a.handleSelectItem)
				r.Post("/clear-selection", a.handleClearSelection)
				r.Post("/discount-review", a.handleDiscountReview)
				r.Post("/payment-mode", a.handlePaymentMode)
				r.Post("/cash-received", a.handleCashReceived)
				r.Post("/payment/confirm", a.handleConfirmPayment)
				r.Post("/clear", a.handleClear)
			})
		})
	})

	return r
}

// requestLogger attaches a request-scoped logger and logs one line per
// request once the handler returns.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		w.Header().Set(middleware.RequestIDHeader, requestID)
		reqLog := a.log.With().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), reqLog)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := reqLog.Info()
		if status >= 500 {
			event = reqLog.Error()
		}
		event.Int("status", status).Dur("duration", time.Since(startedAt)).Msg("request")
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the bearer token to a live session. Staff sessions
// end as soon as the staff member is deactivated.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		session, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		if !a.service.StaffStillActive(r.Context(), session) {
			a.endSessions(session.ID)
			writeError(w, r, http.StatusUnauthorized, service.ErrInactiveAccount)
			return
		}

		ctx := service.WithSession(r.Context(), session)
		reqLog := logger.FromContext(ctx, a.log).With().
			Str("session_id", session.ID).
			Str("shop_id", session.ShopID).
			Str("role", string(session.Role)).
			Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx, reqLog)))
	})
}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := service.SessionFromContext(r.Context())
		if !ok || !session.IsOwner() {
			writeError(w, r, http.StatusForbidden, service.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) endSessions(sessionIDs ...string) {
	for _, id := range sessionIDs {
		a.auth.Revoke(id)
	}
	a.workflows.drop(sessionIDs...)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	identity, err := a.service.VerifyLogin(r.Context(), req)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	a.workflows.drop(a.auth.PurgeExpired()...)
	resp, err := a.auth.Issue(identity)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	log := logger.FromContext(r.Context(), a.log)
	log.Info().
		Str("session_id", resp.Session.ID).
		Str("shop_id", resp.Session.ShopID).
		Str("role", string(resp.Session.Role)).
		Msg("login")
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := service.SessionFromContext(r.Context())
	a.endSessions(session.ID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var verr *validator.Error
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, service.ErrPartialCommit):
		return http.StatusOK
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInactiveAccount), errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, calculator.ErrInvalidTransition),
		errors.Is(err, calculator.ErrCommitInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrCommitFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, calculator.ErrNoMatchingItem):
		return http.StatusUnprocessableEntity
	case errors.As(err, &verr),
		errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, calculator.ErrInvalidAmount),
		errors.Is(err, calculator.ErrInsufficientCash),
		errors.Is(err, calculator.ErrUnknownPaymentMode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal details of 5xx errors. A failed commit keeps
// its retry message because nothing was persisted.
func publicMessage(status int, err error) string {
	if status < 500 {
		return err.Error()
	}
	if errors.Is(err, service.ErrCommitFailed) {
		return service.ErrCommitFailed.Error()
	}
	return "internal server error"
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func decodeAndValidate(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil {
		return err
	}
	return validator.Struct(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := publicMessage(status, err)
	if status >= 500 {
		log := logger.FromContext(r.Context(), zerolog.Nop())
		log.Error().Err(err).Int("status", status).Msg("internal error")
	}
	payload := map[string]any{"error": msg}
	var verr *validator.Error
	if errors.As(err, &verr) {
		payload["fields"] = verr.Fields
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
