// Package googlefit implements the Google Fit variant of the provider protocol on top of
// golang.org/x/oauth2 and the generated fitness/v1 client.
package googlefit

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tyemirov/healthsync/internal/providers"
)

// ProviderID is the registry key for Google Fit.
const ProviderID = "googlefit"

const (
	defaultAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	defaultTokenURL = "https://oauth2.googleapis.com/token"

	endpointSessions = "users_sessions"
)

// Config holds Google OAuth client settings and endpoint overrides.
// APIBaseURL overrides the fitness/v1 base path, e.g. "https://host/fitness/v1/users/".
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string

	AuthURL    string
	TokenURL   string
	APIBaseURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the read scopes for sessions and their aggregates.
func DefaultScopes() []string {
	return []string{
		"https://www.googleapis.com/auth/fitness.activity.read",
		"https://www.googleapis.com/auth/fitness.location.read",
	}
}

// Provider talks to Google's OAuth and Fitness APIs.
type Provider struct {
	config     Config
	httpClient *http.Client
}

// New creates a Google Fit provider, filling defaults for unset fields.
func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	return &Provider{
		config:     cfg,
		httpClient: providers.DefaultHTTPClient(cfg.HTTPClient),
	}
}

// ID implements providers.Protocol.
func (p *Provider) ID() string {
	return ProviderID
}

// Endpoints implements providers.Protocol. Sleep is not synced from Google Fit.
func (p *Provider) Endpoints() providers.Endpoints {
	return providers.Endpoints{
		Primary:    endpointSessions,
		Activities: endpointSessions,
	}
}

func (p *Provider) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       p.config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.config.AuthURL,
			TokenURL:  p.config.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (p *Provider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// AuthCodeURL implements providers.Protocol. Offline access with forced consent guarantees a refresh token.
func (p *Provider) AuthCodeURL(state string, redirectURI string) string {
	return p.oauthConfig(redirectURI).AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode implements providers.Protocol.
func (p *Provider) ExchangeCode(ctx context.Context, code string, redirectURI string) (providers.TokenSet, error) {
	token, err := p.oauthConfig(redirectURI).Exchange(p.oauthContext(ctx), code)
	if err != nil {
		return providers.TokenSet{}, tokenError("exchange", err)
	}
	tokens := tokenSet(token)
	if err := providers.ValidateTokenSet(ProviderID, "exchange", tokens, true); err != nil {
		return providers.TokenSet{}, err
	}
	return tokens, nil
}

// Refresh implements providers.Protocol. Google usually omits refresh_token on refresh;
// oauth2 carries the supplied one forward in that case.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (providers.TokenSet, error) {
	source := p.oauthConfig("").TokenSource(p.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return providers.TokenSet{}, tokenError("refresh", err)
	}
	tokens := tokenSet(token)
	if err := providers.ValidateTokenSet(ProviderID, "refresh", tokens, false); err != nil {
		return providers.TokenSet{}, err
	}
	return tokens, nil
}

func tokenSet(token *oauth2.Token) providers.TokenSet {
	tokens := providers.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		tokens.Scope = scope
	}
	return tokens
}

func tokenError(operation string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		providerErr := &providers.ProviderError{
			Provider:    ProviderID,
			Operation:   operation,
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
			Err:         err,
		}
		if retrieveErr.Response != nil {
			providerErr.Status = retrieveErr.Response.StatusCode
			providerErr.RetryAfter = providers.ParseRetryAfter(retrieveErr.Response.Header.Get("Retry-After"))
		}
		providerErr.Kind = providers.ClassifyOAuthError(providerErr.Status, retrieveErr.ErrorCode)
		return providerErr
	}
	if strings.Contains(err.Error(), "missing access_token") {
		return providers.MalformedResponse(ProviderID, operation, "access_token", err)
	}
	return providers.TransportError(ProviderID, operation, err)
}
