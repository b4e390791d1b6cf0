package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"soporte/pkg/models"
)

// Identity is a resolved caller: a stable subject id plus a role claim.
// The operator role is a configuration-resolved claim, not a hardcoded
// singleton, so additional operator credentials can be issued without a
// redesign.
type Identity struct {
	Subject string
	Role    models.Role
}

// Provider resolves request credentials to an identity. It is the
// external identity collaborator; any failure must deny all access gate
// calls.
type Provider interface {
	Resolve(r *http.Request) (Identity, error)
}

// Config carries the credential material and rate limits for the default
// provider and middleware.
type Config struct {
	OperatorKeys map[string]struct{}
	SigningKeys  map[string]struct{}
	RPS          float64
	Burst        int
}

// KeyProvider is the default Provider. Operator callers present a
// configured API key (Authorization: Bearer or X-API-Key). Tenant callers
// present X-Tenant-ID plus X-Tenant-Signature, an HMAC-SHA256 of the id
// under one of the configured signing keys, minted by the session issuer.
type KeyProvider struct {
	cfg Config
}

// NewKeyProvider builds the default provider from config.
func NewKeyProvider(cfg Config) *KeyProvider { return &KeyProvider{cfg: cfg} }

func (p *KeyProvider) Resolve(r *http.Request) (Identity, error) {
	if key := bearerKey(r); key != "" {
		if _, ok := p.cfg.OperatorKeys[key]; ok {
			return Identity{Subject: "operator", Role: models.RoleOperator}, nil
		}
		return Identity{}, fmt.Errorf("%w: unknown api key", models.ErrUnauthorized)
	}

	subject := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
	sig := strings.TrimSpace(r.Header.Get("X-Tenant-Signature"))
	if subject == "" || sig == "" {
		return Identity{}, fmt.Errorf("%w: missing credentials", models.ErrUnauthorized)
	}
	if len(p.cfg.SigningKeys) == 0 {
		return Identity{}, fmt.Errorf("%w: no signing keys configured", models.ErrUnauthorized)
	}
	for k := range p.cfg.SigningKeys {
		mac := hmac.New(sha256.New, []byte(k))
		mac.Write([]byte(subject))
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return Identity{Subject: subject, Role: models.RoleTenant}, nil
		}
	}
	return Identity{}, fmt.Errorf("%w: invalid signature", models.ErrUnauthorized)
}

// SignTenant produces the signature a tenant presents for its subject id.
// Exposed for the session issuer and for tests.
func SignTenant(signingKey, subject string) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(subject))
	return hex.EncodeToString(mac.Sum(nil))
}

// AuthorizeThread is the access gate: a tenant may only touch the thread
// whose key equals its own subject; the operator may touch every thread.
// Anything ambiguous denies.
func AuthorizeThread(id Identity, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: missing thread key", models.ErrUnauthorized)
	}
	switch id.Role {
	case models.RoleOperator:
		return nil
	case models.RoleTenant:
		if id.Subject != "" && id.Subject == tenantID {
			return nil
		}
		return models.ErrUnauthorized
	default:
		return models.ErrUnauthorized
	}
}

func bearerKey(r *http.Request) string {
	a := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	return r.Header.Get("X-API-Key")
}

type ctxIdentityKey struct{}

// WithIdentity returns ctx carrying the resolved identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id)
}

// FromContext returns the identity resolved by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxIdentityKey{}).(Identity)
	return id, ok
}
