package refimpl

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/relaygate/gqlgw/gwcontext"
)

// TokenInfo is what a registered bearer token resolves to.
type TokenInfo struct {
	UserInfo  gwcontext.UserInfo
	ExpiresAt *time.Time
}

// Authenticator is the in-memory reference implementation of
// collab.Authenticator: a static bearer-token registry. A real
// deployment would verify a JWT against rotating keys instead.
type Authenticator struct {
	mu     sync.RWMutex
	tokens map[string]TokenInfo
}

// NewAuthenticator returns an authenticator with no tokens registered.
func NewAuthenticator() *Authenticator {
	return &Authenticator{tokens: map[string]TokenInfo{}}
}

// Register adds or replaces the identity a bearer token resolves to.
func (a *Authenticator) Register(token string, info TokenInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = info
}

// Resolve implements collab.Authenticator.
func (a *Authenticator) Resolve(ctx context.Context, headers http.Header) (gwcontext.UserInfo, *time.Time, error) {
	auth := headers.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" || token == auth {
		return gwcontext.UserInfo{}, nil, errors.New("missing or malformed Authorization header")
	}

	a.mu.RLock()
	info, ok := a.tokens[token]
	a.mu.RUnlock()
	if !ok {
		return gwcontext.UserInfo{}, nil, errors.New("unrecognized bearer token")
	}

	if info.ExpiresAt != nil && info.ExpiresAt.Before(time.Now()) {
		return gwcontext.UserInfo{}, nil, errors.New("token expired")
	}

	return info.UserInfo, info.ExpiresAt, nil
}
