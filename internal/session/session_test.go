package session

import (
	"errors"
	"testing"
	"time"

	"bizshell/internal/clock"
	"bizshell/internal/jwtsigner"
	"bizshell/internal/storage"

	"github.com/golang-jwt/jwt/v5"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func devToken(t *testing.T, email string, ttl time.Duration) string {
	t.Helper()
	s, err := jwtsigner.NewFromBase64("", "test", "bizshell")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	s.WithClock(func() time.Time { return epoch })
	tok, err := s.Sign(email, ttl, nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func hmacToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-checked"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestCheck(t *testing.T) {
	valid := devToken(t, "a@b.test", time.Hour)
	tests := []struct {
		name string
		kv   map[string]string
		want error
	}{
		{name: "valid", kv: map[string]string{KeyLoggedIn: "true", KeyToken: valid, KeyUserEmail: "a@b.test"}},
		{name: "flag missing", kv: map[string]string{KeyToken: valid, KeyUserEmail: "a@b.test"}, want: ErrNotLoggedIn},
		{name: "flag not true", kv: map[string]string{KeyLoggedIn: "yes", KeyToken: valid, KeyUserEmail: "a@b.test"}, want: ErrNotLoggedIn},
		{name: "token missing", kv: map[string]string{KeyLoggedIn: "true", KeyUserEmail: "a@b.test"}, want: ErrMissingToken},
		{name: "email missing", kv: map[string]string{KeyLoggedIn: "true", KeyToken: valid}, want: ErrMissingEmail},
		{name: "expired", kv: map[string]string{KeyLoggedIn: "true", KeyToken: devToken(t, "a@b.test", -time.Second), KeyUserEmail: "a@b.test"}, want: ErrTokenExpired},
		{name: "malformed", kv: map[string]string{KeyLoggedIn: "true", KeyToken: "abc.def", KeyUserEmail: "a@b.test"}, want: ErrTokenMalformed},
		{name: "no exp", kv: map[string]string{KeyLoggedIn: "true", KeyToken: hmacToken(t, jwt.MapClaims{"sub": "a"}), KeyUserEmail: "a@b.test"}, want: ErrTokenMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem := storage.NewMemory("durable")
			for k, v := range tc.kv {
				_ = mem.Set(k, []byte(v))
			}
			s := New(mem, clock.NewFake(epoch), nil)
			err := s.Check()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected valid session, got %v", err)
				}
				if !s.Valid() {
					t.Fatalf("Valid disagrees with Check")
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestExpiryFollowsClock(t *testing.T) {
	mem := storage.NewMemory("durable")
	clk := clock.NewFake(epoch)
	s := New(mem, clk, nil)
	if err := s.Login("a@b.test", devToken(t, "a@b.test", time.Minute)); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !s.Valid() {
		t.Fatalf("expected valid session")
	}
	clk.Advance(time.Minute)
	if err := s.Check(); err != nil {
		t.Fatalf("expected session still valid at exp, got %v", err)
	}
	clk.Advance(time.Millisecond)
	if err := s.Check(); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expiry just past exp, got %v", err)
	}
}

func TestLogoutRemovesKeys(t *testing.T) {
	mem := storage.NewMemory("durable")
	_ = mem.Set("unrelated", []byte("x"))
	s := New(mem, clock.NewFake(epoch), nil)
	if err := s.Login("a@b.test", devToken(t, "a@b.test", time.Hour)); err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.Email() != "a@b.test" {
		t.Fatalf("unexpected email %q", s.Email())
	}
	if err := s.Logout(); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := s.Logout(); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	for _, k := range []string{KeyLoggedIn, KeyToken, KeyUserEmail} {
		if _, err := mem.Get(k); !storage.IsNotFound(err) {
			t.Fatalf("expected %s removed, got %v", k, err)
		}
	}
	if _, err := mem.Get("unrelated"); err != nil {
		t.Fatalf("logout must not touch other keys: %v", err)
	}
}

func TestUnavailableStorageIsLoggedOut(t *testing.T) {
	s := New(storage.Disabled{}, clock.NewFake(epoch), nil)
	if err := s.Check(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if err := s.Login("a@b.test", "tok"); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected login to surface storage failure, got %v", err)
	}
	if err := s.Logout(); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected joined storage failure, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := epoch.Add(2 * time.Hour)
	tok := hmacToken(t, jwt.MapClaims{"exp": exp.Unix()})
	got, err := TokenExpiry(tok)
	if err != nil {
		t.Fatalf("expiry: %v", err)
	}
	if !got.Equal(exp) {
		t.Fatalf("expected %v, got %v", exp, got)
	}
	if _, err := TokenExpiry(hmacToken(t, jwt.MapClaims{"exp": "soon"})); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected malformed for string exp, got %v", err)
	}
}
