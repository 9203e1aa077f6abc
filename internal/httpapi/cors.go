package httpapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errWildcardOrigin      = errors.New("cors: wildcard origin not allowed when credentials are enabled")
	errEmptyAllowedOrigins = errors.New("cors: no explicit origins provided")
	errInvalidOrigin       = errors.New("cors: invalid origin format")
)

// ConfigureCORS lets a dashboard on another origin call the connection and sync routes with
// its session cookie.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sanitized, err := sanitizeOrigins(logger, allowedOrigins)
	if err != nil {
		return nil, err
	}
	return cors.New(cors.Config{
		AllowOrigins:     sanitized,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}), nil
}

// sanitizeOrigins keeps configuration order and drops duplicates.
func sanitizeOrigins(logger *zap.Logger, allowed []string) ([]string, error) {
	sanitized := make([]string, 0, len(allowed))
	for _, raw := range allowed {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		origin, err := normalizeOrigin(raw)
		if err != nil {
			return nil, err
		}
		if slices.Contains(sanitized, origin.String()) {
			continue
		}
		if origin.Scheme == "http" && !isLoopbackHost(origin.Hostname()) {
			logger.Warn("plain http dashboard origin allowed",
				zap.String("code", "cors.origin.insecure"),
				zap.String("origin", origin.String()))
		}
		sanitized = append(sanitized, origin.String())
	}
	if len(sanitized) == 0 {
		return nil, errEmptyAllowedOrigins
	}
	return sanitized, nil
}

// normalizeOrigin reduces raw to a lowercase scheme://host URL.
func normalizeOrigin(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.Contains(trimmed, "*") {
		return nil, errWildcardOrigin
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", errInvalidOrigin, trimmed)
	}
	if strings.Trim(parsed.Path, "/") != "" || parsed.RawQuery != "" || parsed.Fragment != "" || parsed.User != nil {
		return nil, fmt.Errorf("%w: %s must be scheme and host only", errInvalidOrigin, trimmed)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "http" {
		return nil, fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, trimmed)
	}
	return &url.URL{Scheme: scheme, Host: strings.ToLower(parsed.Host)}, nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	address := net.ParseIP(host)
	return address != nil && address.IsLoopback()
}

// RequestLogger logs one structured line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}
