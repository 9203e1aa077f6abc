// Package withings implements the Withings public API variant of the provider protocol.
// Withings answers HTTP 200 for nearly everything and reports failures in a {status, body} envelope.
package withings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tyemirov/healthsync/internal/providers"
)

// ProviderID is the registry key for Withings.
const ProviderID = "withings"

const (
	defaultAuthURL    = "https://account.withings.com/oauth2_user/authorize2"
	defaultTokenURL   = "https://wbsapi.withings.net/v2/oauth2"
	defaultAPIBaseURL = "https://wbsapi.withings.net"

	endpointWorkouts = "measure_getworkouts"
	endpointSleep    = "sleep_getsummary"

	statusOK          = 0
	statusRateLimited = 601
)

// Config holds Withings OAuth client settings and endpoint overrides.
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

// DefaultScopes returns the scopes needed for workouts and sleep.
func DefaultScopes() []string {
	return []string{"user.info", "user.activity"}
}

// Provider talks to the Withings OAuth and measure APIs.
type Provider struct {
	config     Config
	httpClient *http.Client
}

// New creates a Withings provider, filling defaults for unset fields.
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
		Primary:    endpointWorkouts,
		Activities: endpointWorkouts,
		Sleep:      endpointSleep,
	}
}

// AuthCodeURL implements providers.Protocol.
func (p *Provider) AuthCodeURL(state string, redirectURI string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {redirectURI},
		"scope":         {strings.Join(p.config.Scopes, ",")},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode implements providers.Protocol.
func (p *Provider) ExchangeCode(ctx context.Context, code string, redirectURI string) (providers.TokenSet, error) {
	form := url.Values{
		"action":        {"requesttoken"},
		"grant_type":    {"authorization_code"},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}
	return p.requestToken(ctx, "exchange", form)
}

// Refresh implements providers.Protocol.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (providers.TokenSet, error) {
	form := url.Values{
		"action":        {"requesttoken"},
		"grant_type":    {"refresh_token"},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"refresh_token": {refreshToken},
	}
	return p.requestToken(ctx, "refresh", form)
}

type envelope struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
	Error  string          `json:"error"`
}

type tokenBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (p *Provider) requestToken(ctx context.Context, operation string, form url.Values) (providers.TokenSet, error) {
	var body tokenBody
	if err := p.call(ctx, operation, p.config.TokenURL, "", form, &body); err != nil {
		return providers.TokenSet{}, err
	}
	tokens := providers.TokenSet{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		Scope:        body.Scope,
	}
	if body.ExpiresIn > 0 {
		tokens.ExpiresAt = p.config.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	if err := providers.ValidateTokenSet(ProviderID, operation, tokens, true); err != nil {
		return providers.TokenSet{}, err
	}
	return tokens, nil
}

// call posts the form, unwraps the envelope and decodes body into target.
func (p *Provider) call(ctx context.Context, operation string, endpoint string, accessToken string, form url.Values, target any) error {
	var header http.Header
	if accessToken != "" {
		header = http.Header{}
		header.Set("Authorization", "Bearer "+accessToken)
	}
	response, err := providers.PostForm(ctx, p.httpClient, ProviderID, operation, endpoint, form, header)
	if err != nil {
		return err
	}
	if !response.OK() {
		return providers.StatusError(ProviderID, operation, response, "", "")
	}

	var payload envelope
	if err := json.Unmarshal(response.Body, &payload); err != nil {
		return providers.DecodeFailure(ProviderID, operation, response.Status, err)
	}
	if payload.Status != statusOK {
		return envelopeError(operation, response, payload)
	}
	if len(payload.Body) == 0 {
		return providers.MalformedResponse(ProviderID, operation, "body", nil)
	}
	if err := json.Unmarshal(payload.Body, target); err != nil {
		return providers.DecodeFailure(ProviderID, operation, response.Status, err)
	}
	return nil
}

// envelopeError classifies a non-zero Withings status.
func envelopeError(operation string, response providers.Response, payload envelope) *providers.ProviderError {
	providerErr := &providers.ProviderError{
		Provider:    ProviderID,
		Operation:   operation,
		Status:      payload.Status,
		Code:        fmt.Sprintf("status_%d", payload.Status),
		Description: payload.Error,
		RetryAfter:  providers.ParseRetryAfter(response.Header.Get("Retry-After")),
	}
	lowered := strings.ToLower(payload.Error)
	switch {
	case payload.Status == 100 || payload.Status == 101 || payload.Status == 102 || payload.Status == 200 || payload.Status == 401:
		providerErr.Kind = providers.KindAuth
	case payload.Status == 503 && (strings.Contains(lowered, "invalid refresh_token") || strings.Contains(lowered, "invalid code")):
		providerErr.Kind = providers.KindAuth
	case payload.Status == statusRateLimited:
		providerErr.Kind = providers.KindRateLimited
	case payload.Status >= 2500:
		providerErr.Kind = providers.KindTransient
	default:
		providerErr.Kind = providers.KindRejected
	}
	return providerErr
}
