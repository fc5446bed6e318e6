package jwtsigner

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignRoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := NewFromBase64(base64.StdEncoding.EncodeToString(priv), "dev-1", "shelld")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	issued := time.Unix(1_700_000_000, 0)
	s.WithClock(func() time.Time { return issued })

	tok, err := s.Sign("owner@brand.test", time.Hour, map[string]any{"role": "brand"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed, err := jwt.Parse(tok, func(*jwt.Token) (any, error) {
		return priv.Public(), nil
	}, jwt.WithValidMethods([]string{"EdDSA"}), jwt.WithTimeFunc(func() time.Time { return issued }))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["email"] != "owner@brand.test" || claims["sub"] != "owner@brand.test" || claims["role"] != "brand" {
		t.Fatalf("unexpected claims: %v", claims)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || !exp.Time.Equal(issued.Add(time.Hour)) {
		t.Fatalf("unexpected exp %v (err %v)", exp, err)
	}
	if parsed.Header["kid"] != "dev-1" {
		t.Fatalf("expected kid header, got %v", parsed.Header["kid"])
	}
}

func TestNewFromBase64Rejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "not base64", key: "%%%"},
		{name: "wrong size", key: base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewFromBase64(tc.key, "", ""); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestSignRequiresEmail(t *testing.T) {
	s, err := NewFromBase64("", "", "shelld")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	if _, err := s.Sign("  ", time.Hour, nil); !errors.Is(err, ErrMissingEmail) {
		t.Fatalf("expected ErrMissingEmail, got %v", err)
	}
}
