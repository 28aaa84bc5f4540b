package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/prescriptly/internal/auth"
	"github.com/vbonduro/prescriptly/internal/domain"
	"github.com/vbonduro/prescriptly/internal/logging"
	"github.com/vbonduro/prescriptly/internal/photostore"
	"github.com/vbonduro/prescriptly/internal/session"
)

// catalogReader is the subset of store.CatalogStore the handlers require.
type catalogReader interface {
	Search(ctx context.Context, query, category string) ([]*domain.Medicine, error)
	GetByID(ctx context.Context, id string) (*domain.Medicine, error)
	Categories(ctx context.Context) ([]string, error)
}

// cartRepository is the subset of store.CartStore the handlers require.
type cartRepository interface {
	List(ctx context.Context, userID string) (*domain.Cart, error)
	SetQuantity(ctx context.Context, userID, itemID string, quantity int) error
	Remove(ctx context.Context, userID, itemID string) error
	Clear(ctx context.Context, userID string) error
	Drain(ctx context.Context, userID string) (*domain.Cart, error)
}

type sessionManager interface {
	Get(user domain.User) (*session.Session, error)
	Close(ctx context.Context, userID string) error
}

type authenticator interface {
	Authenticate(r *http.Request) (domain.User, bool)
}

type Server struct {
	sessions   sessionManager
	catalog    catalogReader
	carts      cartRepository
	photoStore photostore.PhotoStore
	authn      authenticator
	mux        *http.ServeMux
	logger     *slog.Logger
}

func NewServer(sessions sessionManager, catalog catalogReader, carts cartRepository, ps photostore.PhotoStore, authn authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sessions:   sessions,
		catalog:    catalog,
		carts:      carts,
		photoStore: ps,
		authn:      authn,
		mux:        http.NewServeMux(),
		logger:     logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.mux.HandleFunc("GET /medicines", s.handleListMedicines)
	s.mux.HandleFunc("GET /medicines/{id}", s.handleGetMedicine)
	s.mux.HandleFunc("GET /categories", s.handleListCategories)

	s.mux.Handle("GET /cart", s.requireUser(s.handleGetCart))
	s.mux.Handle("DELETE /cart", s.requireUser(s.handleClearCart))
	s.mux.Handle("PATCH /cart/items/{id}", s.requireUser(s.handleUpdateCartItem))
	s.mux.Handle("DELETE /cart/items/{id}", s.requireUser(s.handleRemoveCartItem))
	s.mux.Handle("POST /checkout", s.requireUser(s.handleCheckout))

	s.mux.Handle("GET /chat", s.requireUser(s.handleGetChat))
	s.mux.Handle("POST /chat", s.requireUser(s.handleSendChat))

	s.mux.Handle("GET /voice", s.requireUser(s.handleVoiceStatus))
	s.mux.Handle("POST /voice/start", s.requireUser(s.handleVoiceStart))
	s.mux.Handle("POST /voice/stop", s.requireUser(s.handleVoiceStop))
	s.mux.Handle("POST /voice/utterance", s.requireUser(s.handleVoiceUtterance))
	s.mux.Handle("POST /voice/error", s.requireUser(s.handleVoiceError))

	s.mux.Handle("GET /prescriptions", s.requireUser(s.handleGetPrescription))
	s.mux.Handle("POST /prescriptions", s.requireUser(s.handleUploadPrescription))
	s.mux.Handle("GET /prescriptions/image", s.requireUser(s.handleGetPrescriptionImage))
	s.mux.Handle("POST /prescriptions/scan", s.requireUser(s.handleScanPrescription))
	s.mux.Handle("POST /prescriptions/reset", s.requireUser(s.handleResetPrescription))
	s.mux.Handle("POST /prescriptions/candidates/{id}/quantity", s.requireUser(s.handleAdjustCandidate))
	s.mux.Handle("POST /prescriptions/candidates/{id}/cart", s.requireUser(s.handleAddCandidate))

	s.mux.Handle("POST /logout", s.requireUser(s.handleLogout))
}

// userHandler is a handler that runs with an authenticated user and that
// user's session.
type userHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// requireUser authenticates the request and resolves the caller's session.
// Anonymous callers get a 401 pointing at the login page.
func (s *Server) requireUser(h userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authn.Authenticate(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				Error:    "authentication required",
				Message:  "Please log in to use the AI Agent",
				Redirect: "/login",
			})
			return
		}

		ctx := auth.WithUser(r.Context(), user)
		ctx = logging.WithUserID(ctx, user.ID)
		r = r.WithContext(ctx)

		sess, err := s.sessions.Get(user)
		if err != nil {
			s.log(r).Error("get session failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to start session")
			return
		}
		h(w, r, sess)
	})
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

const requestIDHeader = "X-Request-ID"

// requestID propagates the caller's request id, or assigns one, and stores it
// in the request context for logging.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.FromContext(r.Context(), logger).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// chain applies middlewares so that the first one listed runs outermost.
func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chain(s.mux,
		requestID,
		func(next http.Handler) http.Handler { return requestLogger(s.logger, next) },
		securityHeaders,
	).ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to shutdownGrace.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

const shutdownGrace = 10 * time.Second

func (s *Server) log(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), s.logger)
}
