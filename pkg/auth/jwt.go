package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kadirpekel/tonetuner/pkg/config"
)

var (
	// ErrUnauthorized means no usable bearer token was sent.
	ErrUnauthorized = errors.New("a bearer token is required")
	// ErrForbidden means the token lacks the admin role.
	ErrForbidden = errors.New("admin role required")
	// ErrInvalidToken means the signature, issuer or audience did not check out.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired means the token is past its exp claim.
	ErrTokenExpired = errors.New("token expired")
	// ErrMissingSubject means the token has no sub claim to own quotas.
	ErrMissingSubject = errors.New("token has no subject")
)

// TokenValidator turns a bearer token into claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
	Close()
}

// JWTValidatorConfig configures a JWTValidator.
type JWTValidatorConfig struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
}

// JWTValidator validates tokens issued by an external provider.
// The provider's JWKS is fetched once at construction and refreshed in the
// background to follow key rotation.
type JWTValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
	cancel   context.CancelFunc
}

// standardClaims are extracted into Claims fields or checked by jwt.Parse.
var standardClaims = map[string]bool{
	"sub": true, "email": true, "role": true,
	"iss": true, "aud": true, "exp": true, "iat": true, "nbf": true, "jti": true,
}

// NewJWTValidator registers the JWKS URL and performs the first fetch so a
// bad URL fails at startup rather than on the first request.
func NewJWTValidator(cfg JWTValidatorConfig) (*JWTValidator, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("jwks url is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	cache := jwk.NewCache(ctx)

	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{
		jwksURL:  cfg.JWKSURL,
		cache:    cache,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		cancel:   cancel,
	}, nil
}

// ValidateToken verifies the signature, expiry, issuer and audience of
// token and returns its claims. A token without a subject is rejected since
// the subject is the quota owner.
func (v *JWTValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	parsed, err := jwt.Parse(
		[]byte(token),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed.Subject() == "" {
		return nil, ErrMissingSubject
	}

	claims := &Claims{
		Subject: parsed.Subject(),
		Email:   stringClaim(parsed, "email"),
		Role:    stringClaim(parsed, "role"),
		Extra:   make(map[string]any),
	}
	for key, value := range parsed.PrivateClaims() {
		if !standardClaims[key] {
			claims.Extra[key] = value
		}
	}
	return claims, nil
}

// Close stops the background JWKS refresh.
func (v *JWTValidator) Close() {
	if v.cancel != nil {
		v.cancel()
	}
}

func stringClaim(token jwt.Token, key string) string {
	if v, ok := token.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

var _ TokenValidator = (*JWTValidator)(nil)

// NewValidatorFromConfig returns nil when auth is disabled. Otherwise the
// JWKS is fetched right away, so a wrong URL stops startup.
func NewValidatorFromConfig(cfg *config.AuthConfig) (TokenValidator, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	v, err := NewJWTValidator(JWTValidatorConfig{
		JWKSURL:         cfg.JWKSURL,
		Issuer:          cfg.Issuer,
		Audience:        cfg.Audience,
		RefreshInterval: cfg.RefreshInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT validator: %w", err)
	}
	return v, nil
}
