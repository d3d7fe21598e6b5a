// Package francetravail is the outbound client for the France Travail
// "Offres d'emploi v2" API: OAuth2 client-credentials tokens, range-paginated
// search requests and creation-date windowing around the 1150-result ceiling.
package francetravail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTokenURL = "https://entreprise.francetravail.fr/connexion/oauth2/access_token?realm=/partenaire"
	DefaultScope    = "api_offresdemploiv2 o2dsoffre"

	defaultTokenTTL    = 1800 * time.Second
	defaultTokenMargin = 60 * time.Second
	tokenTimeout       = 10 * time.Second
)

// AccessToken is one bearer token and its lifetime.
type AccessToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenConfig configures a TokenCache.
type TokenConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// Margin is how long before expiry a cached token stops being served.
	Margin time.Duration
	// DefaultTTL applies when the token response has no expires_in.
	DefaultTTL time.Duration

	HTTPClient *http.Client
	Now        func() time.Time
}

// TokenCache hands out client-credentials bearer tokens, exchanging a new one
// only when the cached token is missing or within Margin of expiry.
//
// Concurrent callers that find the cache stale wait for a single in-flight
// exchange instead of starting their own. The exchange is detached from the
// caller that started it, so one caller giving up does not fail the others.
type TokenCache struct {
	oauth  clientcredentials.Config
	client *http.Client
	margin time.Duration
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	current *AccessToken

	group singleflight.Group
}

// NewTokenCache builds a TokenCache. Zero values in cfg take the defaults.
func NewTokenCache(cfg TokenConfig) *TokenCache {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Margin <= 0 {
		cfg.Margin = defaultTokenMargin
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultTokenTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: tokenTimeout}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenCache{
		oauth: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		client: cfg.HTTPClient,
		margin: cfg.Margin,
		ttl:    cfg.DefaultTTL,
		now:    cfg.Now,
	}
}

// Token returns a bearer token valid for at least the configured margin.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok := c.cached(); tok != nil {
		return tok.Value, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		// Another exchange may have landed while we queued.
		if tok := c.cached(); tok != nil {
			return tok, nil
		}
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenTimeout)
		defer cancel()
		return c.exchange(exCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*AccessToken).Value, nil
	}
}

// Invalidate drops the cached token so the next call exchanges a new one.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

func (c *TokenCache) cached() *AccessToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	if !c.now().Before(c.current.ExpiresAt.Add(-c.margin)) {
		return nil
	}
	return c.current
}

func (c *TokenCache) exchange(ctx context.Context) (*AccessToken, error) {
	issued := c.now()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	tok, err := c.oauth.Token(ctx)
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil {
			return nil, fmt.Errorf("%w: token endpoint returned %d: %s",
				ErrAuthFailure, rErr.Response.StatusCode, excerpt(rErr.Body))
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access_token", ErrAuthFailure)
	}

	ttl := c.ttl
	if secs, ok := expiresIn(tok); ok && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}

	fresh := &AccessToken{
		Value:     tok.AccessToken,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
	}

	c.mu.Lock()
	c.current = fresh
	c.mu.Unlock()

	return fresh, nil
}

// expiresIn reads the raw expires_in field. The provider has been seen to
// send it both as a number and as a string.
func expiresIn(tok *oauth2.Token) (int64, bool) {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}
