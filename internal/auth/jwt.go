package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Principal represents an authenticated user from JWT token
type Principal struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Verifier validates session tokens, either with a shared HS256 secret or a cached JWKS
type Verifier struct {
	secret []byte
	keySet jwk.Set
}

// NewHMACVerifier verifies tokens signed with the shared secret
func NewHMACVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// NewJWKSVerifier verifies tokens against a remote key set that jwk.Cache keeps fresh
// in the background, so verification never blocks on the network.
func NewJWKSVerifier(ctx context.Context, jwksURL string) (*Verifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(5*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	// Warm up the cache
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cache.Refresh(fetchCtx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed initial JWKS fetch: %w", err)
	}

	return &Verifier{keySet: jwk.NewCachedSet(cache, jwksURL)}, nil
}

// Verify parses and validates a compact token and extracts the user id from the userId
// claim, falling back to sub.
func (v *Verifier) Verify(token string) (Principal, error) {
	var opt jwt.ParseOption
	if v.keySet != nil {
		opt = jwt.WithKeySet(v.keySet)
	} else {
		opt = jwt.WithKey(jwa.HS256, v.secret)
	}

	tok, err := jwt.ParseString(token, opt, jwt.WithValidate(true), jwt.WithAcceptableSkew(30*time.Second))
	if err != nil {
		return Principal{}, fmt.Errorf("failed to parse JWT: %w", err)
	}

	var p Principal
	if c, ok := tok.Get("userId"); ok {
		p.UserID, _ = c.(string)
	}
	if p.UserID == "" {
		p.UserID = tok.Subject()
	}
	if p.UserID == "" {
		return Principal{}, errors.New("token missing user id")
	}
	if c, ok := tok.Get("email"); ok {
		p.Email, _ = c.(string)
	}
	return p, nil
}

// Sign issues an HS256 session token. Only HMAC verifiers can sign.
func (v *Verifier) Sign(p Principal, ttl time.Duration) (string, error) {
	if v.secret == nil {
		return "", errors.New("signing requires a shared secret")
	}

	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject(p.UserID).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim("userId", p.UserID).
		Claim("email", p.Email).
		Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, v.secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}
