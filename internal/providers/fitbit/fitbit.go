// Package fitbit implements the Fitbit Web API variant of the provider protocol.
package fitbit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tyemirov/healthsync/internal/providers"
)

// ProviderID is the registry key for Fitbit.
const ProviderID = "fitbit"

const (
	defaultAuthURL    = "https://www.fitbit.com/oauth2/authorize"
	defaultTokenURL   = "https://api.fitbit.com/oauth2/token"
	defaultAPIBaseURL = "https://api.fitbit.com"

	endpointActivities = "activities_list"
	endpointSleep      = "sleep_range"
)

// Config holds Fitbit OAuth client settings and endpoint overrides.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string

	AuthURL    string
	TokenURL   string
	APIBaseURL string

	HTTPClient *http.Client
	Now        func() time.Time
}

// DefaultScopes returns the scopes needed for activity and sleep sync.
func DefaultScopes() []string {
	return []string{"activity", "heartrate", "sleep", "profile"}
}

// Provider talks to the Fitbit OAuth and Web APIs.
type Provider struct {
	config     Config
	httpClient *http.Client
}

// New creates a Fitbit provider, filling defaults for unset fields.
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
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.Now == nil {
		cfg.Now = time.Now
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

// Endpoints implements providers.Protocol.
func (p *Provider) Endpoints() providers.Endpoints {
	return providers.Endpoints{
		Primary:    endpointActivities,
		Activities: endpointActivities,
		Sleep:      endpointSleep,
	}
}

// AuthCodeURL implements providers.Protocol.
func (p *Provider) AuthCodeURL(state string, redirectURI string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {redirectURI},
		"scope":         {strings.Join(p.config.Scopes, " ")},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode implements providers.Protocol.
func (p *Provider) ExchangeCode(ctx context.Context, code string, redirectURI string) (providers.TokenSet, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
		"client_id":    {p.config.ClientID},
	}
	return p.requestToken(ctx, "exchange", form)
}

// Refresh implements providers.Protocol. Fitbit rotates refresh tokens, so a new one is required.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (providers.TokenSet, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return p.requestToken(ctx, "refresh", form)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
	UserID       string `json:"user_id"`
}

type errorResponse struct {
	Errors []struct {
		ErrorType string `json:"errorType"`
		Message   string `json:"message"`
	} `json:"errors"`
}

func (p *Provider) requestToken(ctx context.Context, operation string, form url.Values) (providers.TokenSet, error) {
	header := http.Header{}
	header.Set("Authorization", basicAuthorization(p.config.ClientID, p.config.ClientSecret))

	response, err := providers.PostForm(ctx, p.httpClient, ProviderID, operation, p.config.TokenURL, form, header)
	if err != nil {
		return providers.TokenSet{}, err
	}
	if !response.OK() {
		return providers.TokenSet{}, apiError(operation, response)
	}

	var payload tokenResponse
	if err := json.Unmarshal(response.Body, &payload); err != nil {
		return providers.TokenSet{}, providers.DecodeFailure(ProviderID, operation, response.Status, err)
	}
	tokens := providers.TokenSet{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		Scope:        payload.Scope,
	}
	if payload.ExpiresIn > 0 {
		tokens.ExpiresAt = p.config.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	if err := providers.ValidateTokenSet(ProviderID, operation, tokens, true); err != nil {
		return providers.TokenSet{}, err
	}
	return tokens, nil
}

// apiError reads the Fitbit error envelope. Token and data endpoints share it.
func apiError(operation string, response providers.Response) *providers.ProviderError {
	var payload errorResponse
	code, description := "", ""
	if err := json.Unmarshal(response.Body, &payload); err == nil && len(payload.Errors) > 0 {
		code = payload.Errors[0].ErrorType
		description = payload.Errors[0].Message
	}
	return providers.StatusError(ProviderID, operation, response, code, description)
}

func basicAuthorization(clientID string, clientSecret string) string {
	credentials := url.QueryEscape(clientID) + ":" + url.QueryEscape(clientSecret)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}
