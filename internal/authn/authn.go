// Package authn resolves incoming HTTP requests to an Identity, per spec.md
// §4.1: a default bearer-token path backed by the aweb API key table, and an
// optional trusted-proxy path carrying an HMAC-signed context for
// deployments that sit behind a wrapper that already authenticated the
// caller.
package authn

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/model"
)

const (
	headerInternalAuth  = "X-BH-Auth"
	headerProjectID     = "X-Project-ID"
	headerUserID        = "X-User-ID"
	headerAPIKeyID      = "X-API-Key"
	headerActorID       = "X-Aweb-Actor-ID"
	bearerTokenPrefix   = "aw_sk_"
)

// Mode records which path resolved an Identity.
type Mode string

const (
	ModeBearer Mode = "bearer"
	ModeProxy  Mode = "proxy"
)

// PrincipalType distinguishes the kind of caller a proxy-injected context
// vouches for.
type PrincipalType string

const (
	PrincipalUser      PrincipalType = "u"
	PrincipalAPIKey    PrincipalType = "k"
	PrincipalPublic    PrincipalType = "p"
)

// Identity is the outcome of authenticating one request.
type Identity struct {
	ProjectID     string
	AgentID       string // set in bearer mode
	APIKeyID      string
	UserID        string
	PrincipalType PrincipalType
	ActorID       string // set in proxy mode
	Mode          Mode
}

// PublicReader reports whether this identity is the proxy's unauthenticated
// public-reader principal, allowed only against public projects.
func (id Identity) PublicReader() bool {
	return id.Mode == ModeProxy && id.PrincipalType == PrincipalPublic
}

type identityCtxKey struct{}

// WithIdentity attaches id to ctx for downstream handlers.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// FromContext retrieves the Identity attached by middleware, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// KeyLookup resolves a bearer token's prefix to candidate API key rows. The
// prefix is the first fixed-length segment of the opaque token, used to
// narrow the row before the full token is compared against key_hash.
type KeyLookup interface {
	LookupAPIKeyByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error)
	AgentLive(ctx context.Context, projectID, agentID string) (bool, error)
}

// Authenticator resolves a request's Identity via the bearer or proxy path.
type Authenticator struct {
	keys   KeyLookup
	secret string // internal auth HMAC secret; empty disables the proxy path
}

// New builds an Authenticator. secret is the HMAC key for the trusted-proxy
// path (spec.md §9's InternalAuthSecret); an empty secret disables it and
// every X-BH-Auth header is ignored rather than rejected.
func New(keys KeyLookup, secret string) *Authenticator {
	return &Authenticator{keys: keys, secret: secret}
}

// Authenticate resolves r to an Identity, preferring the proxy path when its
// header is present and the secret is configured, falling back to bearer
// otherwise.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	if r.Header.Get(headerInternalAuth) != "" {
		if a.secret != "" {
			return a.authenticateProxy(r)
		}
		log.Printf("authn: ignoring %s header: no internal auth secret configured", headerInternalAuth)
	}
	return a.authenticateBearer(r)
}

func (a *Authenticator) authenticateBearer(r *http.Request) (Identity, error) {
	authz := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || token == "" {
		return Identity{}, apierr.Authentication()
	}
	if !strings.HasPrefix(token, bearerTokenPrefix) {
		return Identity{}, apierr.Authentication()
	}
	prefix := keyPrefix(token)

	ctx := r.Context()
	candidates, err := a.keys.LookupAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return Identity{}, fmt.Errorf("looking up api key: %w", err)
	}
	for _, k := range candidates {
		if !k.IsActive {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(token)) != nil {
			continue
		}
		live, err := a.keys.AgentLive(ctx, k.ProjectID, k.AgentID)
		if err != nil {
			return Identity{}, fmt.Errorf("checking agent liveness: %w", err)
		}
		if !live {
			return Identity{}, apierr.Authentication()
		}
		return Identity{
			ProjectID: k.ProjectID,
			AgentID:   k.AgentID,
			APIKeyID:  k.KeyID,
			Mode:      ModeBearer,
		}, nil
	}
	return Identity{}, apierr.Authentication()
}

// keyPrefix returns the portion of token used to narrow the API key lookup
// before the full comparison. The opaque suffix after bearerTokenPrefix is
// split at a fixed length so the prefix never leaks enough entropy to be
// useful on its own.
func keyPrefix(token string) string {
	const prefixLen = 12
	suffix := token[len(bearerTokenPrefix):]
	if len(suffix) <= prefixLen {
		return token
	}
	return bearerTokenPrefix + suffix[:prefixLen]
}

func (a *Authenticator) authenticateProxy(r *http.Request) (Identity, error) {
	projectID, ok := canonicalUUID(r.Header.Get(headerProjectID))
	if !ok {
		return Identity{}, apierr.Authentication()
	}

	var principalType PrincipalType
	var principalID string
	internalAuth := r.Header.Get(headerInternalAuth)

	switch {
	case r.Header.Get(headerUserID) != "":
		principalType = PrincipalUser
		principalID, ok = canonicalUUID(r.Header.Get(headerUserID))
		if !ok {
			return Identity{}, apierr.Authentication()
		}
	case r.Header.Get(headerAPIKeyID) != "":
		principalType = PrincipalAPIKey
		principalID, ok = canonicalUUID(r.Header.Get(headerAPIKeyID))
		if !ok {
			return Identity{}, apierr.Authentication()
		}
	default:
		// No user or API key header: the principal type carried in the
		// signed header itself may be something other than "u"/"k" (e.g.
		// "p" for a public reader).
		parts := strings.Split(internalAuth, ":")
		if len(parts) < 5 || parts[0] != "v2" || parts[2] == string(PrincipalUser) || parts[2] == string(PrincipalAPIKey) {
			return Identity{}, apierr.Authentication()
		}
		principalType = PrincipalType(parts[2])
		principalID = parts[3]
	}

	actorID, ok := canonicalUUID(r.Header.Get(headerActorID))
	if !ok {
		return Identity{}, apierr.Authentication()
	}

	expected := signInternalAuth(a.secret, projectID, principalType, principalID, actorID)
	if !hmac.Equal([]byte(internalAuth), []byte(expected)) {
		return Identity{}, apierr.Authentication()
	}

	return Identity{
		ProjectID:     projectID,
		PrincipalType: principalType,
		UserID:        stringIf(principalType == PrincipalUser, principalID),
		APIKeyID:      stringIf(principalType == PrincipalAPIKey, principalID),
		ActorID:       actorID,
		Mode:          ModeProxy,
	}, nil
}

// canonicalUUID parses s as a UUID and returns its canonical hyphenated,
// lowercase form, the same normalization the signed header's message is
// built from on both ends. An empty or malformed s is rejected outright.
func canonicalUUID(s string) (string, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func stringIf(cond bool, s string) string {
	if cond {
		return s
	}
	return ""
}

// signInternalAuth computes the "v2:..." signed header value the trusted
// proxy must present.
func signInternalAuth(secret, projectID string, principalType PrincipalType, principalID, actorID string) string {
	msg := fmt.Sprintf("v2:%s:%s:%s:%s", projectID, principalType, principalID, actorID)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return msg + ":" + hex.EncodeToString(mac.Sum(nil))
}

// CheckActorBinding enforces spec.md §4.1's actor-binding rule: in bearer
// mode, a mutation scoped to workspaceID must come from the matching agent.
// Proxy mode delegates this check to the wrapper and always passes.
func CheckActorBinding(id Identity, workspaceID string) error {
	if id.Mode != ModeBearer {
		return nil
	}
	if id.AgentID != workspaceID {
		return apierr.Authorizationf("workspace_id does not match API key identity")
	}
	return nil
}
