// Package authplugins implements engine.AuthPlugin for the bearer, basic,
// and OAuth2 client-credentials schemes.
package authplugins

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/fracture-labs/fracture/internal/engine"
	"github.com/fracture-labs/fracture/internal/model"
)

// Bearer applies an `Authorization: Bearer <token>` header.
type Bearer struct{}

func (Bearer) AuthTypes() []string { return []string{"bearer"} }
func (Bearer) Protocols() []string { return []string{"http", "https"} }
func (Bearer) Name() string        { return "bearer" }
func (Bearer) Version() string     { return "1.0.0" }

func (Bearer) Validate(auth model.Auth, opts engine.RuntimeOptions) engine.ValidationResult {
	if _, ok := auth.Data["token"].(string); !ok {
		return engine.ValidationResult{Errors: []string{"bearer auth requires a string 'token'"}}
	}
	return engine.ValidationResult{Valid: true}
}

func (Bearer) Apply(req model.Request, auth model.Auth, opts engine.RuntimeOptions) (model.Request, error) {
	token, _ := auth.Data["token"].(string)
	return setHeader(req, "Authorization", "Bearer "+token), nil
}

// Basic applies HTTP basic auth.
type Basic struct{}

func (Basic) AuthTypes() []string { return []string{"basic"} }
func (Basic) Protocols() []string { return []string{"http", "https"} }
func (Basic) Name() string        { return "basic" }
func (Basic) Version() string     { return "1.0.0" }

func (Basic) Validate(auth model.Auth, opts engine.RuntimeOptions) engine.ValidationResult {
	if _, ok := auth.Data["username"].(string); !ok {
		return engine.ValidationResult{Errors: []string{"basic auth requires a string 'username'"}}
	}
	return engine.ValidationResult{Valid: true}
}

func (Basic) Apply(req model.Request, auth model.Auth, opts engine.RuntimeOptions) (model.Request, error) {
	user, _ := auth.Data["username"].(string)
	pass, _ := auth.Data["password"].(string)
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	return setHeader(req, "Authorization", "Basic "+token), nil
}

// OAuth2 fetches a client-credentials token and caches it for its lifetime.
// The token fetch is the one auth-plugin operation the scheduler allows to
// run concurrently with script execution (spec.md §5).
type OAuth2 struct {
	mu    sync.Mutex
	cache map[string]cachedToken
}

type cachedToken struct {
	value   string
	expires time.Time
}

// NewOAuth2 builds an OAuth2 plugin with an empty token cache.
func NewOAuth2() *OAuth2 { return &OAuth2{cache: map[string]cachedToken{}} }

func (*OAuth2) AuthTypes() []string { return []string{"oauth2"} }
func (*OAuth2) Protocols() []string { return []string{"http", "https"} }
func (*OAuth2) Name() string        { return "oauth2" }
func (*OAuth2) Version() string     { return "1.0.0" }

func (*OAuth2) Validate(auth model.Auth, opts engine.RuntimeOptions) engine.ValidationResult {
	var errs []string
	for _, k := range []string{"tokenUrl", "clientId", "clientSecret"} {
		if _, ok := auth.Data[k].(string); !ok {
			errs = append(errs, fmt.Sprintf("oauth2 auth requires a string %q", k))
		}
	}
	return engine.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func (o *OAuth2) Apply(req model.Request, auth model.Auth, opts engine.RuntimeOptions) (model.Request, error) {
	tokenURL, _ := auth.Data["tokenUrl"].(string)
	clientID, _ := auth.Data["clientId"].(string)
	clientSecret, _ := auth.Data["clientSecret"].(string)

	cacheKey := tokenURL + "|" + clientID
	o.mu.Lock()
	tok, ok := o.cache[cacheKey]
	o.mu.Unlock()
	if ok && time.Now().Before(tok.expires) {
		return setHeader(req, "Authorization", "Bearer "+tok.value), nil
	}

	// The fetch itself stays outside the lock: the scheduler may run this
	// concurrently for distinct requests, and the token endpoint round trip
	// shouldn't serialize them (spec.md §5). Only the cache map needs it.
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	token, err := cfg.Token(context.Background())
	if err != nil {
		return req, fmt.Errorf("oauth2 token fetch: %w", err)
	}
	o.mu.Lock()
	o.cache[cacheKey] = cachedToken{value: token.AccessToken, expires: token.Expiry}
	o.mu.Unlock()
	return setHeader(req, "Authorization", "Bearer "+token.AccessToken), nil
}

func setHeader(req model.Request, key, value string) model.Request {
	clone := req.Clone()
	if clone.Data.Headers == nil {
		clone.Data.Headers = map[string]string{}
	}
	clone.Data.Headers[key] = value
	return clone
}
