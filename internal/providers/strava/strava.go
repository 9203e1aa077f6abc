// Package strava implements the Strava API v3 variant of the provider protocol.
package strava

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tyemirov/healthsync/internal/providers"
)

// ProviderID is the registry key for Strava.
const ProviderID = "strava"

const (
	defaultAuthURL    = "https://www.strava.com/oauth/authorize"
	defaultTokenURL   = "https://www.strava.com/oauth/token"
	defaultAPIBaseURL = "https://www.strava.com/api/v3"

	endpointActivities = "athlete_activities"
)

// Config holds Strava OAuth client settings and endpoint overrides.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string

	AuthURL    string
	TokenURL   string
	APIBaseURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the scopes needed to read private activities.
func DefaultScopes() []string {
	return []string{"read", "activity:read_all"}
}

// Provider talks to the Strava OAuth and activity APIs.
type Provider struct {
	config     Config
	httpClient *http.Client
}

// New creates a Strava provider, filling defaults for unset fields.
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
	return &Provider{
		config:     cfg,
		httpClient: providers.DefaultHTTPClient(cfg.HTTPClient),
	}
}

// ID implements providers.Protocol.
func (p *Provider) ID() string {
	return ProviderID
}

// Endpoints implements providers.Protocol. Strava has no sleep data.
func (p *Provider) Endpoints() providers.Endpoints {
	return providers.Endpoints{
		Primary:    endpointActivities,
		Activities: endpointActivities,
	}
}

// AuthCodeURL implements providers.Protocol. Strava separates scopes with commas.
func (p *Provider) AuthCodeURL(state string, redirectURI string) string {
	params := url.Values{
		"client_id":       {p.config.ClientID},
		"redirect_uri":    {redirectURI},
		"response_type":   {"code"},
		"approval_prompt": {"auto"},
		"scope":           {strings.Join(p.config.Scopes, ",")},
		"state":           {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode implements providers.Protocol.
func (p *Provider) ExchangeCode(ctx context.Context, code string, redirectURI string) (providers.TokenSet, error) {
	form := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}
	tokens, err := p.requestToken(ctx, "exchange", form)
	if err != nil {
		return providers.TokenSet{}, err
	}
	tokens.Scope = strings.Join(p.config.Scopes, ",")
	return tokens, nil
}

// Refresh implements providers.Protocol.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (providers.TokenSet, error) {
	form := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return p.requestToken(ctx, "refresh", form)
}

type tokenResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
}

type faultResponse struct {
	Message string `json:"message"`
	Errors  []struct {
		Resource string `json:"resource"`
		Field    string `json:"field"`
		Code     string `json:"code"`
	} `json:"errors"`
}

func (p *Provider) requestToken(ctx context.Context, operation string, form url.Values) (providers.TokenSet, error) {
	response, err := providers.PostForm(ctx, p.httpClient, ProviderID, operation, p.config.TokenURL, form, nil)
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
	}
	if payload.ExpiresAt > 0 {
		tokens.ExpiresAt = time.Unix(payload.ExpiresAt, 0).UTC()
	}
	if err := providers.ValidateTokenSet(ProviderID, operation, tokens, true); err != nil {
		return providers.TokenSet{}, err
	}
	return tokens, nil
}

// apiError reads a Strava fault. An "invalid" code on a token or code field means the grant is dead.
func apiError(operation string, response providers.Response) *providers.ProviderError {
	var fault faultResponse
	code := ""
	if err := json.Unmarshal(response.Body, &fault); err == nil {
		for _, detail := range fault.Errors {
			if detail.Code == "" {
				continue
			}
			code = detail.Resource + "." + detail.Field + "." + detail.Code
			if detail.Code == "invalid" && (detail.Field == "refresh_token" || detail.Field == "code" || detail.Resource == "RefreshToken" || detail.Resource == "AuthorizationCode") {
				providerErr := providers.StatusError(ProviderID, operation, response, "invalid_grant", fault.Message)
				providerErr.Code = code
				return providerErr
			}
		}
	}
	providerErr := providers.StatusError(ProviderID, operation, response, "", fault.Message)
	if code != "" {
		providerErr.Code = code
	}
	return providerErr
}
