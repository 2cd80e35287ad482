package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/moogar0880/problems"

	"nexus/backend/internal/config"
	"nexus/backend/pkg/models"
)

var (
	// ErrUnauthenticated is returned when a credential is absent, malformed,
	// expired, or carries an invalid signature.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrMalformedCredential is returned when a credential verifies but does
	// not carry the identity claim.
	ErrMalformedCredential = errors.New("malformed credential")
)

// DevIdentity is the identity assigned to every request when the DEV bypass
// is enabled.
const DevIdentity models.Identity = "dev-user"

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Verifier turns a raw bearer credential into the caller's identity.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (models.Identity, error)
}

// Auth authenticates inbound requests and binds the verified identity to the
// request context.
type Auth struct {
	verifier   Verifier
	logger     Logger
	authBypass bool
}

// New creates a new Auth object using values from the application
// configuration. The verifier is chosen by auth.mode.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	shouldBypass := cfg.IsDev() && cfg.DevModeBypass
	if shouldBypass {
		if logger != nil {
			logger.Warn("authentication bypass enabled, every request runs as the dev identity", "identity", DevIdentity)
		}
		return &Auth{logger: logger, authBypass: true}, nil
	}

	var (
		verifier Verifier
		err      error
	)
	switch cfg.Auth.Mode {
	case "oidc":
		verifier, err = NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.ClientID, cfg.Auth.ClockSkew)
	case "hmac":
		verifier, err = NewHMACVerifier(HMACConfig{
			Secret:     []byte(cfg.Auth.JWTSecret),
			Algorithm:  cfg.Auth.Algorithm,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
			RequireExp: cfg.Auth.RequireExp,
		})
	default:
		err = fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
	if err != nil {
		return nil, err
	}

	return NewWithVerifier(verifier, logger), nil
}

// NewWithVerifier creates an Auth around an existing verifier.
func NewWithVerifier(verifier Verifier, logger Logger) *Auth {
	return &Auth{verifier: verifier, logger: logger}
}

// Verify validates a raw bearer credential.
func (a *Auth) Verify(ctx context.Context, rawToken string) (models.Identity, error) {
	if a.authBypass {
		return DevIdentity, nil
	}
	return a.verifier.Verify(ctx, rawToken)
}

// RequireAuth is middleware that ensures a valid bearer token is present.
// Requests without one are rejected with 401; the verified identity is stored
// in the request context for the handlers.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var identity models.Identity

		if a.authBypass {
			identity = DevIdentity
		} else {
			rawToken, ok := BearerToken(r)
			if !ok {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			var err error
			identity, err = a.verifier.Verify(r.Context(), rawToken)
			if err != nil {
				if a.logger != nil {
					a.logger.Debug("rejected credential", "path", r.URL.Path, "error", err)
				}
				writeUnauthorized(w, r, err.Error())
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// BearerToken extracts the credential from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type identityKey struct{}

// WithIdentity returns a context carrying the caller identity.
func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity bound by RequireAuth.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(models.Identity)
	if !ok || identity.IsZero() {
		return "", false
	}
	return identity, true
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := problems.NewStatusProblem(http.StatusUnauthorized).
		WithInstance(r.URL.Path).
		WithType("unauthenticated").
		WithDetail(detail)

	w.Header().Set("WWW-Authenticate", `Bearer realm="nexus"`)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(problem)
}
