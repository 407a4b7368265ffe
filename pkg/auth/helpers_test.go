package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	testIssuer   = "https://test-issuer.example"
	testAudience = "tonetuner-api"
	testKeyID    = "test-key-id"
)

// testIdP serves a JWKS and signs tokens with the matching private key.
type testIdP struct {
	server *httptest.Server
	key    *rsa.PrivateKey
}

func newTestIdP(t testing.TB) *testIdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	pub, err := jwk.FromRaw(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to build JWK: %v", err)
	}
	_ = pub.Set(jwk.KeyIDKey, testKeyID)
	_ = pub.Set(jwk.AlgorithmKey, jwa.RS256)

	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		t.Fatalf("Failed to add key: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(server.Close)

	return &testIdP{server: server, key: key}
}

func (p *testIdP) jwksURL() string {
	return p.server.URL + "/.well-known/jwks.json"
}

func (p *testIdP) validator(t testing.TB) *JWTValidator {
	t.Helper()
	v, err := NewJWTValidator(JWTValidatorConfig{
		JWKSURL:  p.jwksURL(),
		Issuer:   testIssuer,
		Audience: testAudience,
	})
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	t.Cleanup(v.Close)
	return v
}

// sign issues a token. Entries in claims override the defaults; a nil value
// removes the claim.
func (p *testIdP) sign(t testing.TB, claims map[string]any) string {
	t.Helper()

	base := map[string]any{
		jwt.IssuerKey:     testIssuer,
		jwt.AudienceKey:   testAudience,
		jwt.SubjectKey:    "user-123",
		jwt.IssuedAtKey:   time.Now(),
		jwt.ExpirationKey: time.Now().Add(time.Hour),
	}
	for k, v := range claims {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}

	token := jwt.New()
	for k, v := range base {
		if err := token.Set(k, v); err != nil {
			t.Fatalf("Failed to set claim %s: %v", k, err)
		}
	}

	priv, err := jwk.FromRaw(p.key)
	if err != nil {
		t.Fatalf("Failed to build private JWK: %v", err)
	}
	_ = priv.Set(jwk.KeyIDKey, testKeyID)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, priv))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return string(signed)
}
