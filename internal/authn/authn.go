// Package authn is the token authenticator collaborator: a black box
// that turns an opaque bearer token into a verified identity. Credential
// issuance and password hashing live upstream of the core; Verifier checks
// tokens signed with the shared secret, and Issuer mints such tokens for
// tests and local development only.
package authn

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidToken is returned for any malformed, expired, or unsigned token.
var ErrInvalidToken = errors.New("invalid token")

// Identity is what a verified token resolves to.
type Identity struct {
	UserID   string
	Email    string
	PlanType string
}

// claims is the payload embedded in every token this authenticator issues.
// The wire format is opaque to callers; only Issuer/Verifier need to agree
// on it.
type claims struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	PlanType  string    `json:"plan_type"`
	ExpiresAt time.Time `json:"exp"`
}

// Verifier validates bearer tokens issued by Issuer. Verification is a pure,
// in-process HMAC check; no network call, so it never blocks.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier bound to secret. The same secret must be
// used by the Issuer that minted the tokens.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// GenerateSecret returns a fresh random signing secret.
func GenerateSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	return b, nil
}

// Verify checks a token's signature and expiry and returns the identity it
// carries.
func (v *Verifier) Verify(token string) (Identity, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return Identity{}, ErrInvalidToken
	}
	payload, sig := parts[0], parts[1]

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	wantSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	if !hmac.Equal(wantSig, v.sign(raw)) {
		return Identity{}, ErrInvalidToken
	}

	var c claims
	if err := json.Unmarshal(raw, &c); err != nil {
		return Identity{}, ErrInvalidToken
	}
	if !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt) {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: c.UserID, Email: c.Email, PlanType: c.PlanType}, nil
}

func (v *Verifier) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Issuer mints tokens. Production credential issuance is out of the core's
// scope; this exists so tests and local development can produce tokens
// the Verifier accepts without a real identity provider.
type Issuer struct {
	secret []byte
}

// NewIssuer creates an issuer bound to secret.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret}
}

// Issue mints a token for identity, valid for ttl (0 means no expiry).
func (i *Issuer) Issue(id Identity, ttl time.Duration) (string, error) {
	c := claims{UserID: id.UserID, Email: id.Email, PlanType: id.PlanType}
	if ttl > 0 {
		c.ExpiresAt = time.Now().Add(ttl)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	v := &Verifier{secret: i.secret}
	sig := v.sign(raw)
	return base64.RawURLEncoding.EncodeToString(raw) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
