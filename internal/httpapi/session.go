package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionCookieName is used when SessionConfig.CookieName is empty.
const DefaultSessionCookieName = "app_session"

const userIDContextKey = "user_id"

var (
	ErrMissingSigningKey = errors.New("session.missing_signing_key")
	ErrMissingIssuer     = errors.New("session.missing_issuer")
	ErrMissingCookie     = errors.New("session.missing_cookie")
	ErrInvalidToken      = errors.New("session.invalid_token")
	ErrInvalidIssuer     = errors.New("session.invalid_issuer")
	ErrTokenExpired      = errors.New("session.expired")
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SessionConfig configures the SessionValidator.
type SessionConfig struct {
	SigningKey []byte
	Issuer     string
	CookieName string
	Clock      Clock
}

// SessionClaims is the payload of the HS256 session token.
type SessionClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// SessionValidator authenticates requests from the session cookie.
type SessionValidator struct {
	signingKey []byte
	issuer     string
	cookieName string
	clock      Clock
}

// NewSessionValidator validates the configuration and constructs a SessionValidator.
func NewSessionValidator(configuration SessionConfig) (*SessionValidator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("session.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("session.new: %w", ErrMissingIssuer)
	}
	cookieName := configuration.CookieName
	if strings.TrimSpace(cookieName) == "" {
		cookieName = DefaultSessionCookieName
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &SessionValidator{
		signingKey: configuration.SigningKey,
		issuer:     configuration.Issuer,
		cookieName: cookieName,
		clock:      clock,
	}, nil
}

// ValidateToken parses the token and checks signature, issuer, and time bounds.
func (validator *SessionValidator) ValidateToken(tokenString string) (*SessionClaims, error) {
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return validator.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(validator.clock.Now))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("session.validate_token: %w", ErrTokenExpired)
		}
		return nil, fmt.Errorf("session.validate_token: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok || !parsedToken.Valid || strings.TrimSpace(claims.UserID) == "" {
		return nil, fmt.Errorf("session.validate_token: %w", ErrInvalidToken)
	}
	if claims.Issuer != validator.issuer {
		return nil, fmt.Errorf("session.validate_token: %w", ErrInvalidIssuer)
	}
	return claims, nil
}

// ValidateRequest reads and validates the session cookie.
func (validator *SessionValidator) ValidateRequest(request *http.Request) (*SessionClaims, error) {
	cookie, cookieErr := request.Cookie(validator.cookieName)
	if cookieErr != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return nil, fmt.Errorf("session.validate_request: %w", ErrMissingCookie)
	}
	return validator.ValidateToken(cookie.Value)
}

// RequireSession rejects unauthenticated requests and exposes the user id to handlers.
func (validator *SessionValidator) RequireSession() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		contextGin.Set(userIDContextKey, claims.UserID)
		contextGin.Next()
	}
}

// MintSessionToken signs an HS256 session token for userID.
func MintSessionToken(userID string, issuer string, signingKey []byte, issuedAt time.Time, ttl time.Duration) (string, time.Time, error) {
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	return signed, expiresAt, err
}

func sessionUserID(contextGin *gin.Context) string {
	return contextGin.GetString(userIDContextKey)
}
