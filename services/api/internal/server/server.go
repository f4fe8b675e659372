package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mindmate/internal/ratelimit"
	"mindmate/internal/util"
	"mindmate/pkg/auth"
	"mindmate/pkg/queue"
	"mindmate/pkg/storage"
	"mindmate/services/api/internal/app"
)

const (
	maxJSONBody   = 1 << 20
	healthTimeout = 2 * time.Second
)

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// Config wires required dependencies for the HTTP server.
type Config struct {
	Accounts  *app.Accounts
	Subjects  *app.SubjectRegistry
	Documents *app.DocumentRegistry
	Tasks     queue.TaskQueue
	// Files serves signed links when blobs live on local disk.
	Files *storage.FileStore

	InternalToken      string
	SignupLimiter      ratelimit.Limiter
	LoginLimiter       ratelimit.Limiter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
	HealthChecks       map[string]HealthCheck
}

// Server exposes the HTTP API.
type Server struct {
	accounts       *app.Accounts
	subjects       *app.SubjectRegistry
	documents      *app.DocumentRegistry
	tasks          queue.TaskQueue
	files          *storage.FileStore
	internalToken  string
	signupLimiter  ratelimit.Limiter
	loginLimiter   ratelimit.Limiter
	trustedProxies *util.TrustedProxies
	corsOrigins    []string
	maxUploadBytes int64
	checks         map[string]HealthCheck
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Accounts == nil || cfg.Subjects == nil || cfg.Documents == nil {
		return nil, errors.New("server: accounts, subjects and documents are required")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 || maxUpload > app.MaxPDFBytes {
		maxUpload = app.MaxPDFBytes
	}
	s := &Server{
		accounts:       cfg.Accounts,
		subjects:       cfg.Subjects,
		documents:      cfg.Documents,
		tasks:          cfg.Tasks,
		files:          cfg.Files,
		internalToken:  strings.TrimSpace(cfg.InternalToken),
		signupLimiter:  cfg.SignupLimiter,
		loginLimiter:   cfg.LoginLimiter,
		trustedProxies: cfg.TrustedProxies,
		corsOrigins:    cfg.CORSAllowedOrigins,
		maxUploadBytes: maxUpload,
		checks:         cfg.HealthChecks,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.corsOrigins)(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)

	// auth
	s.mux.Handle("/auth/signup", s.limited(s.signupLimiter, "signup", s.handleSignup))
	s.mux.Handle("/auth/login", s.limited(s.loginLimiter, "login", s.handleLogin))
	s.mux.Handle("/auth/validate", s.authenticated(s.handleValidate))
	s.mux.Handle("/auth/logout", s.authenticated(s.handleLogout))

	// subjects & documents (auth required)
	s.mux.Handle("/subjects", s.authenticated(s.handleSubjects))
	s.mux.Handle("/subjects/", s.authenticated(s.handleSubjectByID))
	s.mux.Handle("/documents", s.authenticated(s.handleDocuments))
	s.mux.Handle("/documents/", s.authenticated(s.handleDocumentRoutes))

	// worker callbacks
	s.mux.Handle("/internal/documents/", s.withInternal(s.handleInternalDocument))
	s.mux.Handle("/internal/queues/", s.withInternal(s.handleInternalQueue))

	if s.files != nil {
		s.mux.HandleFunc("/files/", s.handleFile)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	var (
		g       errgroup.Group
		mu      sync.Mutex
		failing []string
	)
	for name, check := range s.checks {
		name, check := name, check
		g.Go(func() error {
			if err := check(ctx); err != nil {
				mu.Lock()
				failing = append(failing, name)
				mu.Unlock()
				util.LoggerFromContext(r.Context()).Warn("health check failed", "component", name, "err", err)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sort.Strings(failing)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failing": failing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": s.accounts.Keys()})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, auth.Claims)

// authenticated rejects the request before any handler runs unless it carries a
// valid, unrevoked bearer token. A revocation backend outage is a 503, not a 401.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.accounts.Validate(r.Context(), token)
		switch {
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenRevoked):
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		case err != nil:
			util.LoggerFromContext(r.Context()).Error("token verification failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", claims.UserID))
		next(w, r.WithContext(ctx), claims)
	})
}

func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalToken == "" {
			writeError(w, http.StatusInternalServerError, "internal auth not configured")
			return
		}
		got := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.internalToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) limited(limiter ratelimit.Limiter, action string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter != nil && r.Method == http.MethodPost {
			key := action + ":" + util.ClientIP(r, s.trustedProxies)
			if !limiter.Allow(r.Context(), key) {
				util.LoggerFromContext(r.Context()).Warn("rate limited", "action", action)
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
		}
		next(w, r)
	})
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.accounts.Signup(r.Context(), app.SignupInput{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":  true,
		"userId": claims.UserID,
		"email":  claims.Email,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ auth.Claims) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, _ := bearerToken(r)
	if err := s.accounts.Logout(r.Context(), token); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createSubjectRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	switch r.Method {
	case http.MethodPost:
		var req createSubjectRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		subject, err := s.subjects.Create(r.Context(), app.CreateSubjectInput{Name: req.Name}, claims.UserID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, subject)
	case http.MethodGet:
		subjects, err := s.subjects.ListForOwner(r.Context(), claims.UserID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, subjects)
	default:
		methodNotAllowed(w)
	}
}

// /subjects/{id}
func (s *Server) handleSubjectByID(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	id := strings.TrimPrefix(r.URL.Path, "/subjects/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if !util.IsID(id) {
		writeError(w, http.StatusBadRequest, "invalid subject id")
		return
	}
	switch r.Method {
	case http.MethodGet:
		subject, err := s.subjects.GetOwned(r.Context(), id, claims.UserID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, subject)
	case http.MethodDelete:
		if err := s.subjects.Delete(r.Context(), id, claims.UserID); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authHeader[7:])
	if token == "" {
		return "", false
	}
	return token, true
}
