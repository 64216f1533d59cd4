package httpapi

import (
	"crypto/rand"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"

	"freshroute/backend/internal/service"
)

const (
	maxBodyBytes = 1 << 20

	loginAttempts = 5
	pinAttempts   = 8
	attemptWindow = time.Minute
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	csrfSecret    []byte
	log           zerolog.Logger
	handler       http.Handler
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log zerolog.Logger) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	a := &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		csrfSecret:    csrfSecret,
		log:           log.With().Str("component", "httpapi").Logger(),
	}
	a.handler = a.routes()
	return a
}

// Handler returns the router. Rate limit counters live with the API, so
// repeated calls share them.
func (a *API) Handler() http.Handler {
	return a.handler
}

func (a *API) routes() http.Handler {
	loginLimiter := attemptLimiter(loginAttempts, "too many login attempts")
	pinLimiter := attemptLimiter(pinAttempts, "too many manager PIN attempts")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders())
	r.Use(a.cors)
	r.Use(a.csrf)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(loginLimiter).Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth("cashier", "admin"))

			r.Get("/products", a.handleProducts)
			r.Get("/vehicles", a.handleVehicles)
			r.Get("/vehicles/{id}/stock", a.handleVehicleStock)
			r.Get("/customers/{id}", a.handleCustomer)

			r.Post("/carts", a.handleOpenCart)
			r.Get("/carts/{id}", a.handleGetCart)
			r.Post("/carts/{id}/lines", a.handleAddCartLine)
			r.Put("/carts/{id}/lines/{index}", a.handleSetCartLineQuantity)
			r.Delete("/carts/{id}/lines/{index}", a.handleRemoveCartLine)
			r.Put("/carts/{id}/offer", a.handleSetCartOffer)
			r.Post("/carts/{id}/checkout", a.handleCheckoutCart)

			r.Post("/sales", a.handleCreateSale)
			r.Get("/sales", a.handleListSales)
			r.Get("/sales/{id}", a.handleGetSale)
			r.Post("/sales/{id}/payments", a.handleAddPayment)
			r.Get("/sales/{id}/returns", a.handleSaleReturns)

			r.Post("/returns", a.handleProcessReturn)
			r.Post("/expenses", a.handleRecordExpense)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth("admin"))

			r.Post("/stock/movements", a.handleRecordMovement)
			r.Get("/stock/warehouse/{productID}", a.handleWarehouseStock)
			r.Get("/vehicles/{id}/stock/verify", a.handleVerifyVehicleStock)
			r.With(pinLimiter).Post("/sales/{id}/cancel", a.handleCancelSale)
			r.Get("/reports/day-end", a.handleDayEnd)
			r.Get("/users/cashiers", a.handleListCashiers)
			r.Post("/users/cashiers", a.handleCreateCashier)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	return r
}

func attemptLimiter(limit int, message string) func(http.Handler) http.Handler {
	return httprate.Limit(limit, attemptWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, errors.New(message))
		}),
	)
}

func securityHeaders() func(http.Handler) http.Handler {
	return secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	}).Handler
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Body != nil && r.Method != http.MethodGet {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger writes one line per request. 5xx responses log at error.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := a.log.Info()
		if status >= http.StatusInternalServerError {
			event = a.log.Error()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}
