// Package session verifies session tokens issued by the identity provider.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var ErrMissingToken = errors.New("session: missing token")

// Claims are the identity fields orgkit reads from a session token.
type Claims struct {
	Subject string
	Email   string
	// OrgID is the provider's id of the active organization, empty when
	// the session has none selected.
	OrgID   string
	OrgRole string
}

// IsOrgAdmin reports whether the session holds the provider admin role.
func (c *Claims) IsOrgAdmin() bool { return c.OrgRole == "org:admin" || c.OrgRole == "admin" }

// Verifier validates session tokens against issuer, audience and keys.
type Verifier struct {
	issuer   string
	audience string
	keySet   jwk.Set
	skew     time.Duration
}

type Option func(*Verifier)

// WithAcceptableSkew tolerates clock drift between provider and server.
func WithAcceptableSkew(d time.Duration) Option { return func(v *Verifier) { v.skew = d } }

// NewVerifier builds a verifier over a fixed key set. An empty audience
// disables the audience check.
func NewVerifier(issuer, audience string, keySet jwk.Set, opts ...Option) *Verifier {
	v := &Verifier{issuer: strings.TrimRight(issuer, "/"), audience: audience, keySet: keySet, skew: 30 * time.Second}
	for _, o := range opts {
		o(v)
	}
	return v
}

// NewRemoteVerifier fetches the JWKS at jwksURL and keeps it refreshed in the
// background for the life of ctx.
func NewRemoteVerifier(ctx context.Context, issuer, audience, jwksURL string, opts ...Option) (*Verifier, error) {
	if jwksURL == "" {
		jwksURL = strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
	}
	c := jwk.NewCache(ctx)
	if err := c.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, err
	}
	if _, err := c.Refresh(ctx, jwksURL); err != nil {
		return nil, err
	}
	return NewVerifier(issuer, audience, jwk.NewCachedSet(c, jwksURL), opts...), nil
}

// Verify validates raw and extracts its claims.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}
	if v == nil || v.keySet == nil {
		return nil, errors.New("session: missing key set")
	}
	opts := []jwt.ParseOption{
		jwt.WithKeySet(v.keySet, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAcceptableSkew(v.skew),
		jwt.WithContext(ctx),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	token, err := jwt.ParseString(raw, opts...)
	if err != nil {
		return nil, err
	}
	if token.Subject() == "" {
		return nil, errors.New("session: token has no subject")
	}
	return &Claims{
		Subject: token.Subject(),
		Email:   stringClaim(token, "email"),
		OrgID:   stringClaim(token, "org_id"),
		OrgRole: stringClaim(token, "org_role"),
	}, nil
}

func stringClaim(t jwt.Token, name string) string {
	if raw, ok := t.Get(name); ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}
