package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nexus/backend/pkg/models"
)

// HMACConfig describes how shared-secret tokens are verified.
type HMACConfig struct {
	Secret     []byte
	Algorithm  string // HS256, HS384 or HS512
	Issuer     string // optional
	Audience   string // optional
	ClockSkew  time.Duration
	RequireExp bool
	Now        func() time.Time
}

// HMACVerifier verifies tokens signed with a shared secret, the format used by
// hosted auth providers that hand the project a JWT secret.
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewHMACVerifier creates a verifier that accepts only the configured HMAC
// algorithm. Tokens using any other algorithm, including "none", are rejected.
func NewHMACVerifier(cfg HMACConfig) (*HMACVerifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("hmac verifier requires a secret")
	}
	alg := strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	if _, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("algorithm %q is not an HMAC algorithm", cfg.Algorithm)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if cfg.RequireExp {
		opts = append(opts, jwt.WithExpirationRequired())
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}

	return &HMACVerifier{
		secret: cfg.Secret,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify checks the token signature and registered claims and returns the
// subject as the caller identity.
func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (models.Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return "", fmt.Errorf("%w: token is required", ErrUnauthenticated)
	}

	var claims jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(rawToken, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", mapJWTError(err)
	}

	identity := models.Identity(strings.TrimSpace(claims.Subject))
	if identity.IsZero() {
		return "", fmt.Errorf("%w: token has no subject", ErrMalformedCredential)
	}
	return identity, nil
}

// mapJWTError translates jwt library errors into ErrUnauthenticated with a
// short reason suitable for the caller.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: token is expired", ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: token is not valid yet", ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: token signature is invalid", ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: token algorithm is not accepted", ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: token is malformed", ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: token issuer mismatch", ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: token audience mismatch", ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: token is missing a required claim", ErrUnauthenticated)
	default:
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
}
