// Package auth answers "who is the current user?" for the agent layer.
// Login itself happens elsewhere; requests arrive carrying a bearer token
// that was issued out of band.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/vbonduro/prescriptly/internal/domain"
)

type ctxKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// CurrentUser returns the authenticated user stored in ctx, if any.
func CurrentUser(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(domain.User)
	return u, ok && u.ID != ""
}

type tokenEntry struct {
	token []byte
	user  domain.User
}

// TokenAuthenticator resolves static bearer tokens to users.
type TokenAuthenticator struct {
	entries []tokenEntry
}

func NewTokenAuthenticator(tokens map[string]domain.User) *TokenAuthenticator {
	a := &TokenAuthenticator{}
	for tok, u := range tokens {
		a.entries = append(a.entries, tokenEntry{token: []byte(tok), user: u})
	}
	return a
}

// Authenticate extracts the bearer token from r. It returns false when the
// header is missing or the token is unknown.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (domain.User, bool) {
	h := r.Header.Get("Authorization")
	tok, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || tok == "" {
		return domain.User{}, false
	}
	for _, e := range a.entries {
		if subtle.ConstantTimeCompare(e.token, []byte(tok)) == 1 {
			return e.user, true
		}
	}
	return domain.User{}, false
}

// ParseTokens parses a comma separated list of token:userID[:display name].
func ParseTokens(raw string) (map[string]domain.User, error) {
	out := make(map[string]domain.User)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed auth token entry %q", entry)
		}
		u := domain.User{ID: parts[1], Name: parts[1]}
		if len(parts) == 3 && parts[2] != "" {
			u.Name = parts[2]
		}
		out[parts[0]] = u
	}
	return out, nil
}
