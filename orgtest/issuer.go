// Package orgtest runs a stand-in identity provider for tests: it serves a
// JWKS and signs session tokens that validate against it.
//
//	iss := orgtest.NewIssuer()
//	defer iss.Close()
//	v, _ := session.NewRemoteVerifier(ctx, iss.URL(), iss.Audience(), iss.JWKSURL())
//	token := iss.SessionToken("user_1", "org_1", "org:admin")
package orgtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const keyID = "orgtest-key-1"

// Issuer signs RS256 session tokens and serves the matching JWKS at
// /.well-known/jwks.json.
type Issuer struct {
	server   *httptest.Server
	key      *rsa.PrivateKey
	keys     jwk.Set
	audience string
}

func NewIssuer() *Issuer {
	return NewIssuerWithAudience("orgkit-test")
}

func NewIssuerWithAudience(audience string) *Issuer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("orgtest: generate key: " + err.Error())
	}
	pub, err := jwk.FromRaw(&key.PublicKey)
	if err != nil {
		panic("orgtest: jwk: " + err.Error())
	}
	_ = pub.Set(jwk.KeyIDKey, keyID)
	_ = pub.Set(jwk.AlgorithmKey, jwa.RS256)
	_ = pub.Set(jwk.KeyUsageKey, "sig")
	set := jwk.NewSet()
	_ = set.AddKey(pub)

	iss := &Issuer{key: key, keys: set, audience: audience}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", iss.handleJWKS)
	iss.server = httptest.NewServer(mux)
	return iss
}

func (i *Issuer) URL() string     { return i.server.URL }
func (i *Issuer) JWKSURL() string { return i.server.URL + "/.well-known/jwks.json" }

func (i *Issuer) Audience() string { return i.audience }

// KeySet returns the public keys, for verifiers that skip the HTTP fetch.
func (i *Issuer) KeySet() jwk.Set { return i.keys }

func (i *Issuer) Close() {
	if i.server != nil {
		i.server.Close()
	}
}

func (i *Issuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(i.keys)
}

// SessionToken signs a token for userID acting in orgID with the provider's
// organization role (for example "org:admin"). Empty orgID omits the org claims.
func (i *Issuer) SessionToken(userID, orgID, orgRole string) string {
	extra := map[string]any{}
	if orgID != "" {
		extra["org_id"] = orgID
		extra["org_role"] = orgRole
	}
	return i.TokenWithClaims(userID, extra)
}

// TokenWithClaims signs a token with the standard claims merged with extra.
func (i *Issuer) TokenWithClaims(userID string, extra map[string]any) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iss": i.URL(),
		"aud": i.audience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
		"nbf": now.Add(-time.Minute).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = keyID
	signed, err := tok.SignedString(i.key)
	if err != nil {
		panic("orgtest: sign: " + err.Error())
	}
	return signed
}

// ExpiredToken signs a token that expired an hour ago.
func (i *Issuer) ExpiredToken(userID string) string {
	return i.TokenWithClaims(userID, map[string]any{"exp": time.Now().Add(-time.Hour).Unix()})
}
