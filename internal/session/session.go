package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bizshell/internal/clock"
	"bizshell/internal/observability/metrics"
	"bizshell/internal/storage"

	"github.com/golang-jwt/jwt/v5"
)

// Durable keys shared with every tab of the same origin.
const (
	KeyLoggedIn  = "isLoggedIn"
	KeyToken     = "jwt"
	KeyUserEmail = "userEmail"
)

var (
	ErrNotLoggedIn    = errors.New("session: not logged in")
	ErrMissingToken   = errors.New("session: missing token")
	ErrMissingEmail   = errors.New("session: missing user email")
	ErrTokenExpired   = errors.New("session: token expired")
	ErrTokenMalformed = errors.New("session: malformed token")
)

// Session reads and writes the authentication flags in durable storage.
type Session struct {
	store  storage.Backend
	clock  clock.Clock
	logger *slog.Logger
}

func New(store storage.Backend, clk clock.Clock, logger *slog.Logger) *Session {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{store: store, clock: clk, logger: logger}
}

func (s *Session) read(key string) string {
	v, err := s.store.Get(key)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Warn("session_read_failed", "key", key, "error", err)
		}
		return ""
	}
	return string(v)
}

// Check returns nil when the login flag is set, a token and email are
// present and the token's exp has not passed. Any storage failure
// counts as logged out.
func (s *Session) Check() error {
	err := s.check()
	result := "valid"
	if err != nil {
		result = "invalid"
	}
	metrics.SessionChecksTotal.WithLabelValues(result).Inc()
	return err
}

func (s *Session) check() error {
	if s.read(KeyLoggedIn) != "true" {
		return ErrNotLoggedIn
	}
	token := s.read(KeyToken)
	if token == "" {
		return ErrMissingToken
	}
	if s.read(KeyUserEmail) == "" {
		return ErrMissingEmail
	}
	exp, err := TokenExpiry(token)
	if err != nil {
		return err
	}
	if s.clock.Now().After(exp) {
		return ErrTokenExpired
	}
	return nil
}

func (s *Session) Valid() bool { return s.Check() == nil }

func (s *Session) Email() string { return s.read(KeyUserEmail) }

func (s *Session) Token() string { return s.read(KeyToken) }

// Login stores the three authentication keys. The token is not checked
// here; an expired token simply fails the next Check.
func (s *Session) Login(email, token string) error {
	if strings.TrimSpace(email) == "" {
		return ErrMissingEmail
	}
	if token == "" {
		return ErrMissingToken
	}
	if err := s.store.Set(KeyToken, []byte(token)); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if err := s.store.Set(KeyUserEmail, []byte(email)); err != nil {
		return fmt.Errorf("store email: %w", err)
	}
	if err := s.store.Set(KeyLoggedIn, []byte("true")); err != nil {
		return fmt.Errorf("store login flag: %w", err)
	}
	return nil
}

// Logout removes every authentication key, continuing past failures so a
// broken tier cannot leave a half-valid session behind.
func (s *Session) Logout() error {
	var errs []error
	for _, key := range []string{KeyLoggedIn, KeyToken, KeyUserEmail} {
		if err := s.store.Remove(key); err != nil && !storage.IsNotFound(err) {
			s.logger.Warn("session_logout_remove_failed", "key", key, "error", err)
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// TokenExpiry decodes the payload segment of a JWT without verifying its
// signature and returns its exp claim. A token without exp is rejected.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("%w: no exp claim", ErrTokenMalformed)
	}
	return exp.Time, nil
}
