package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bizshell/internal/broadcast"
	"bizshell/internal/cache"
	"bizshell/internal/clock"
	"bizshell/internal/httpx"
	"bizshell/internal/jwtsigner"
	"bizshell/internal/observability/middleware"
	"bizshell/internal/session"
	"bizshell/internal/tabs"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the components the ops API reads and drives.
type Deps struct {
	Tabs    *tabs.Store
	Session *session.Session
	Cache   *cache.Manager
	// Janitor, when set, serves cleanup requests so diagnostics are
	// refreshed too.
	Janitor *cache.Janitor
	// Signer enables the dev login endpoint; nil disables it.
	Signer      *jwtsigner.Signer
	DevTokenTTL time.Duration
	// Transport carries the logout notice to open tabs.
	Transport  broadcast.Transport
	Clock      clock.Clock
	StaleAfter time.Duration
}

type Options struct {
	CORSOrigins []string
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int
	Logger    *slog.Logger
}

type loginRequest struct {
	Email string `json:"email"`
	TTL   string `json:"ttl,omitempty"`
}

type loginResponse struct {
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type sessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	Email         string     `json:"email,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

type tabsResponse struct {
	Tabs  []tabs.Record `json:"tabs"`
	Count int           `json:"count"`
}

type entryResponse struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Expiry    *int64          `json:"expiry"`
}

type unreadResponse struct {
	GroupID string          `json:"groupId"`
	UserID  string          `json:"userId"`
	Count   int             `json:"count"`
	First   *cache.Message  `json:"first,omitempty"`
	Unread  []cache.Message `json:"unread"`
}

func NewRouter(d Deps, opts Options) http.Handler {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.StaleAfter <= 0 {
		d.StaleAfter = tabs.DefaultStaleAfter
	}
	if d.DevTokenTTL <= 0 {
		d.DevTokenTTL = time.Hour
	}
	if d.Transport == nil {
		d.Transport = broadcast.Noop{}
	}

	r := chi.NewRouter()
	r.Use(middleware.WithRequestAndTrace)
	r.Use(httpx.LogRequests(opts.Logger))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: originsOrAll(opts.CORSOrigins),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id", "X-Trace-Id"},
		MaxAge:         300,
	}))
	r.Use(middleware.WithMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tabs", func(w http.ResponseWriter, r *http.Request) {
			live, _ := d.Tabs.Sweep(clock.Millis(d.Clock.Now()), d.StaleAfter)
			if live == nil {
				live = []tabs.Record{}
			}
			writeJSON(w, http.StatusOK, tabsResponse{Tabs: live, Count: len(live)})
		})

		r.Get("/session", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, describeSession(d.Session))
		})

		r.Post("/session/login", func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.RequestIDFromContext(r.Context())
			if d.Signer == nil {
				http.Error(w, "dev login disabled", http.StatusNotFound)
				return
			}
			var req loginRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				slog.Warn("dev login decode failed", "error", err, "request_id", reqID)
				return
			}
			ttl := d.DevTokenTTL
			if req.TTL != "" {
				parsed, err := time.ParseDuration(req.TTL)
				if err != nil {
					http.Error(w, "invalid ttl", http.StatusBadRequest)
					return
				}
				ttl = parsed
			}
			token, err := d.Signer.Sign(req.Email, ttl, nil)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, jwtsigner.ErrMissingEmail) {
					status = http.StatusBadRequest
				}
				http.Error(w, err.Error(), status)
				return
			}
			email := strings.TrimSpace(req.Email)
			if err := d.Session.Login(email, token); err != nil {
				http.Error(w, "session unavailable", http.StatusServiceUnavailable)
				slog.Warn("dev login store failed", "error", err, "request_id", reqID)
				return
			}
			exp, _ := session.TokenExpiry(token)
			slog.Info("dev login", "email", email, "expires_at", exp, "request_id", reqID)
			writeJSON(w, http.StatusOK, loginResponse{Email: email, Token: token, ExpiresAt: exp})
		})

		r.Post("/session/logout", func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.RequestIDFromContext(r.Context())
			if err := d.Session.Logout(); err != nil {
				http.Error(w, "session unavailable", http.StatusServiceUnavailable)
				slog.Warn("logout failed", "error", err, "request_id", reqID)
				return
			}
			if err := d.Transport.Post(broadcast.UserLoggedOut()); err != nil && !errors.Is(err, broadcast.ErrClosed) {
				slog.Warn("logout broadcast failed", "error", err, "request_id", reqID)
			}
			slog.Info("logout", "request_id", reqID)
			w.WriteHeader(http.StatusNoContent)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, d.Cache.Stats())
			})
			r.Post("/cleanup", func(w http.ResponseWriter, r *http.Request) {
				var removed int
				if d.Janitor != nil {
					removed = d.Janitor.RunOnce()
				} else {
					removed = d.Cache.CleanupExpiredEntries()
				}
				writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]int{"removed": d.Cache.Clear()})
			})
			r.Get("/entries/{key}", func(w http.ResponseWriter, r *http.Request) {
				key := chi.URLParam(r, "key")
				e, ok := d.Cache.Lookup(key)
				if !ok {
					http.Error(w, "not found", http.StatusNotFound)
					return
				}
				writeJSON(w, http.StatusOK, entryResponse{Key: key, Data: e.Data, Timestamp: e.Timestamp, Expiry: e.Expiry})
			})
		})

		r.Get("/groups/{groupID}/unread", func(w http.ResponseWriter, r *http.Request) {
			groupID := chi.URLParam(r, "groupID")
			userID := r.URL.Query().Get("user")
			if userID == "" {
				http.Error(w, "missing user", http.StatusBadRequest)
				return
			}
			unread := d.Cache.GetUnreadMessages(groupID, userID)
			res := unreadResponse{GroupID: groupID, UserID: userID, Count: len(unread), Unread: unread}
			if res.Unread == nil {
				res.Unread = []cache.Message{}
			}
			if len(unread) > 0 {
				first := unread[0]
				res.First = &first
			}
			writeJSON(w, http.StatusOK, res)
		})
	})

	return r
}

func describeSession(s *session.Session) sessionResponse {
	err := s.Check()
	if err != nil {
		return sessionResponse{Reason: err.Error()}
	}
	res := sessionResponse{Authenticated: true, Email: s.Email()}
	if exp, err := session.TokenExpiry(s.Token()); err == nil {
		res.ExpiresAt = &exp
	}
	return res
}

func originsOrAll(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
