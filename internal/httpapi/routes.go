// Package httpapi exposes the provider connect flow, connection management, and sync triggers over gin.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/healthsync/internal/observability"
	"github.com/tyemirov/healthsync/internal/providers"
	"github.com/tyemirov/healthsync/internal/store"
	"github.com/tyemirov/healthsync/internal/syncer"
)

const connectStateCookieName = "healthsync_connect_state"

var errInvalidPublicBaseURL = errors.New("httpapi.invalid_public_base_url")

// ProtocolRegistry resolves configured providers.
type ProtocolRegistry interface {
	Lookup(id string) (providers.Protocol, error)
	IDs() []string
}

// Syncer runs sync pipelines on behalf of a user.
type Syncer interface {
	SyncAll(ctx context.Context, userID string) (syncer.SyncReport, error)
	SyncProvider(ctx context.Context, userID string, providerID string) (syncer.SyncReport, error)
}

// AutoSyncer is the session-start sync gate.
type AutoSyncer interface {
	RunOnSessionStart(ctx context.Context, userID string) (syncer.SyncReport, bool, error)
}

// Config wires the HTTP surface to its collaborators.
type Config struct {
	PublicBaseURL  string
	Session        *SessionValidator
	States         StateStore
	StateTTL       time.Duration
	Protocols      ProtocolRegistry
	Store          store.Store
	Syncer         Syncer
	AutoSync       AutoSyncer
	Metrics        observability.MetricsRecorder
	MetricsHandler http.Handler
	Clock          Clock
	Logger         *zap.Logger
}

// Server holds the resolved redirect URIs and handler dependencies.
type Server struct {
	configuration Config
	redirectURIs  map[string]string
	basePath      string
	secureCookies bool
}

// NewServer resolves one redirect URI per configured provider from the public base URL.
func NewServer(configuration Config) (*Server, error) {
	parsed, err := url.Parse(strings.TrimSpace(configuration.PublicBaseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", errInvalidPublicBaseURL, configuration.PublicBaseURL)
	}
	if configuration.Session == nil || configuration.Store == nil || configuration.Protocols == nil {
		return nil, errors.New("httpapi.new: session, store, and protocols are required")
	}
	if configuration.StateTTL <= 0 {
		configuration.StateTTL = DefaultStateTTL
	}
	if configuration.States == nil {
		configuration.States = NewMemoryStateStore(configuration.StateTTL)
	}
	if configuration.Metrics == nil {
		configuration.Metrics = observability.NopMetrics{}
	}
	if configuration.Clock == nil {
		configuration.Clock = systemClock{}
	}
	if configuration.Logger == nil {
		configuration.Logger = zap.NewNop()
	}

	base := strings.TrimRight(parsed.String(), "/")
	redirectURIs := make(map[string]string)
	for _, providerID := range configuration.Protocols.IDs() {
		redirectURIs[providerID] = base + callbackPath(providerID)
	}
	return &Server{
		configuration: configuration,
		redirectURIs:  redirectURIs,
		basePath:      strings.TrimRight(parsed.Path, "/"),
		secureCookies: parsed.Scheme == "https",
	}, nil
}

// RedirectURI returns the callback URL registered with providerID.
func (server *Server) RedirectURI(providerID string) (string, bool) {
	redirectURI, ok := server.redirectURIs[providerID]
	return redirectURI, ok
}

// Mount registers every route on router.
func (server *Server) Mount(router gin.IRouter) {
	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if server.configuration.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(server.configuration.MetricsHandler))
	}

	router.GET("/connect/:provider/callback", server.handleCallback)

	authenticated := router.Group("/")
	authenticated.Use(server.configuration.Session.RequireSession())
	authenticated.GET("/connect/:provider", server.handleConnect)
	authenticated.GET("/connections", server.handleListConnections)
	authenticated.DELETE("/connections/:provider", server.handleDisconnect)
	if server.configuration.Syncer != nil {
		authenticated.POST("/sync", server.handleSyncAll)
		authenticated.POST("/sync/:provider", server.handleSyncProvider)
	}
	if server.configuration.AutoSync != nil {
		authenticated.POST("/sync/auto", server.handleAutoSync)
	}
}

func (server *Server) handleConnect(contextGin *gin.Context) {
	providerID := contextGin.Param("provider")
	protocol, err := server.configuration.Protocols.Lookup(providerID)
	if err != nil {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
		return
	}
	state, err := server.configuration.States.Issue(contextGin, PendingConnect{UserID: sessionUserID(contextGin), ProviderID: providerID})
	if err != nil {
		server.configuration.Logger.Error("state issue failed", zap.String("code", "connect.state_issue"), zap.Error(err))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	server.writeStateCookie(contextGin, providerID, state)
	contextGin.Redirect(http.StatusFound, protocol.AuthCodeURL(state, server.redirectURIs[providerID]))
}

func (server *Server) handleCallback(contextGin *gin.Context) {
	providerID := contextGin.Param("provider")
	protocol, err := server.configuration.Protocols.Lookup(providerID)
	if err != nil {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
		return
	}

	boundState := ""
	if cookie, cookieErr := contextGin.Request.Cookie(connectStateCookieName); cookieErr == nil {
		boundState = cookie.Value
	}
	server.clearStateCookie(contextGin, providerID)

	state := contextGin.Query("state")
	pending, stateErr := server.configuration.States.Consume(contextGin, state)
	if providerError := contextGin.Query("error"); providerError != "" {
		server.configuration.Metrics.RecordConnect(providerID, "denied")
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":          "provider_denied",
			"provider_error": providerError,
		})
		return
	}
	if stateErr != nil {
		server.configuration.Metrics.RecordConnect(providerID, "invalid_state")
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_state"})
		return
	}
	// The state must come back through the browser that started the flow.
	if boundState == "" || subtle.ConstantTimeCompare([]byte(boundState), []byte(state)) != 1 {
		server.configuration.Metrics.RecordConnect(providerID, "unbound_state")
		server.configuration.Logger.Warn("callback state not bound to this browser",
			zap.String("code", "connect.unbound_state"),
			zap.String("provider", providerID),
		)
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "state_not_bound"})
		return
	}
	if pending.ProviderID != providerID {
		server.configuration.Metrics.RecordConnect(providerID, "invalid_state")
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "state_mismatch"})
		return
	}
	code := contextGin.Query("code")
	if strings.TrimSpace(code) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_code"})
		return
	}

	tokens, err := protocol.ExchangeCode(contextGin.Request.Context(), code, server.redirectURIs[providerID])
	if err == nil {
		err = providers.ValidateTokenSet(providerID, "exchange", tokens, true)
	}
	if err != nil {
		status, errorCode := exchangeFailure(err)
		server.configuration.Metrics.RecordConnect(providerID, errorCode)
		server.configuration.Logger.Warn("code exchange failed",
			zap.String("code", "connect."+errorCode),
			zap.String("provider", providerID),
			zap.Error(err),
		)
		contextGin.AbortWithStatusJSON(status, gin.H{"error": errorCode})
		return
	}

	now := server.configuration.Clock.Now()
	if err := server.configuration.Store.Put(contextGin, store.OAuthCredential{
		UserID:       pending.UserID,
		ProviderID:   providerID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAtMs:  tokens.ExpiresAt.UnixMilli(),
		Scope:        tokens.Scope,
		Status:       store.CredentialActive,
		UpdatedAtMs:  now.UnixMilli(),
	}); err != nil {
		server.storageFailure(contextGin, "connect.credential_put", err)
		return
	}
	if err := server.configuration.Store.UpsertConnection(contextGin, store.ProviderConnection{
		UserID:      pending.UserID,
		ProviderID:  providerID,
		ConnectedAt: now,
	}); err != nil {
		server.storageFailure(contextGin, "connect.connection_upsert", err)
		return
	}
	server.configuration.Metrics.RecordConnect(providerID, "connected")
	contextGin.JSON(http.StatusOK, gin.H{"provider_id": providerID, "connected": true})
}

// writeStateCookie pins the state to the browser; only the provider's callback path receives it.
func (server *Server) writeStateCookie(contextGin *gin.Context, providerID string, state string) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     connectStateCookieName,
		Value:    state,
		Path:     server.basePath + callbackPath(providerID),
		Expires:  server.configuration.Clock.Now().Add(server.configuration.StateTTL),
		Secure:   server.secureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (server *Server) clearStateCookie(contextGin *gin.Context, providerID string) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     connectStateCookieName,
		Value:    "",
		Path:     server.basePath + callbackPath(providerID),
		MaxAge:   -1,
		Secure:   server.secureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func callbackPath(providerID string) string {
	return "/connect/" + providerID + "/callback"
}

func exchangeFailure(err error) (int, string) {
	switch providers.KindOf(err) {
	case providers.KindMalformed:
		return http.StatusBadGateway, "invalid_token_response"
	case providers.KindAuth, providers.KindRejected:
		return http.StatusBadRequest, "exchange_rejected"
	default:
		return http.StatusBadGateway, "provider_unavailable"
	}
}

type connectionView struct {
	ProviderID     string `json:"provider_id"`
	ConnectedAt    string `json:"connected_at"`
	NeedsReconnect bool   `json:"needs_reconnect"`
}

func (server *Server) handleListConnections(contextGin *gin.Context) {
	connections, err := server.configuration.Store.ListConnections(contextGin, sessionUserID(contextGin))
	if err != nil {
		server.storageFailure(contextGin, "connections.list", err)
		return
	}
	views := make([]connectionView, 0, len(connections))
	for _, connection := range connections {
		views = append(views, connectionView{
			ProviderID:     connection.ProviderID,
			ConnectedAt:    connection.ConnectedAt.UTC().Format(time.RFC3339),
			NeedsReconnect: connection.NeedsReconnect,
		})
	}
	contextGin.JSON(http.StatusOK, gin.H{"connections": views})
}

func (server *Server) handleDisconnect(contextGin *gin.Context) {
	userID := sessionUserID(contextGin)
	providerID := contextGin.Param("provider")
	if err := server.configuration.Store.Delete(contextGin, userID, providerID); err != nil {
		server.storageFailure(contextGin, "disconnect.credential", err)
		return
	}
	if err := server.configuration.Store.RemoveConnection(contextGin, userID, providerID); err != nil {
		server.storageFailure(contextGin, "disconnect.connection", err)
		return
	}
	if err := server.configuration.Store.ClearSyncState(contextGin, userID, providerID); err != nil {
		server.storageFailure(contextGin, "disconnect.sync_state", err)
		return
	}
	contextGin.Status(http.StatusNoContent)
}

func (server *Server) handleSyncAll(contextGin *gin.Context) {
	report, err := server.configuration.Syncer.SyncAll(contextGin.Request.Context(), sessionUserID(contextGin))
	if err != nil {
		server.storageFailure(contextGin, "sync.all", err)
		return
	}
	contextGin.JSON(http.StatusOK, report)
}

func (server *Server) handleSyncProvider(contextGin *gin.Context) {
	report, err := server.configuration.Syncer.SyncProvider(contextGin.Request.Context(), sessionUserID(contextGin), contextGin.Param("provider"))
	if err != nil {
		if errors.Is(err, providers.ErrUnknownProvider) {
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
			return
		}
		server.storageFailure(contextGin, "sync.provider", err)
		return
	}
	contextGin.JSON(http.StatusOK, report)
}

func (server *Server) handleAutoSync(contextGin *gin.Context) {
	report, ran, err := server.configuration.AutoSync.RunOnSessionStart(contextGin.Request.Context(), sessionUserID(contextGin))
	if err != nil {
		server.storageFailure(contextGin, "sync.auto", err)
		return
	}
	if !ran {
		contextGin.JSON(http.StatusOK, gin.H{"ran": false})
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"ran": true, "report": report})
}

func (server *Server) storageFailure(contextGin *gin.Context, code string, err error) {
	server.configuration.Logger.Error("request failed", zap.String("code", code), zap.Error(err))
	contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
