package jwtsigner

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingEmail = errors.New("jwtsigner: email required")

// Signer issues development bearer tokens. Tabs only read the exp claim,
// so the key never has to be distributed.
type Signer struct {
	private ed25519.PrivateKey
	KeyID   string
	Issuer  string

	now func() time.Time
}

// NewFromBase64 creates a signer from base64-encoded ed25519 private key bytes.
// If privB64 is empty, it generates an ephemeral key.
func NewFromBase64(privB64, kid, iss string) (*Signer, error) {
	var priv ed25519.PrivateKey
	if privB64 == "" {
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		priv = generated
	} else {
		raw, err := base64.StdEncoding.DecodeString(privB64)
		if err != nil {
			return nil, err
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, errors.New("invalid ed25519 private key size")
		}
		priv = ed25519.PrivateKey(raw)
	}
	return &Signer{private: priv, KeyID: kid, Issuer: iss, now: time.Now}, nil
}

// WithClock makes the signer stamp iat/exp from now instead of wall time.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Sign issues a token for email valid for ttl. A negative ttl yields a
// token that is already expired.
func (s *Signer) Sign(email string, ttl time.Duration, extra map[string]any) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrMissingEmail
	}
	now := s.now()
	m := jwt.MapClaims{}
	for k, v := range extra {
		m[k] = v
	}
	m["iss"] = s.Issuer
	m["sub"] = email
	m["email"] = email
	m["iat"] = now.Unix()
	m["exp"] = now.Add(ttl).Unix()

	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, m)
	if s.KeyID != "" {
		t.Header["kid"] = s.KeyID
	}
	return t.SignedString(s.private)
}
