// Package auth provides JWT middleware for operator routes and short-lived
// room tokens scoping websocket subscriptions to a single conversation.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	claimSubject        = "sub"
	claimUserID         = "user_id"
	claimType           = "typ"
	claimConversationID = "conversation_id"
	roomTokenType       = "room"
)

// DefaultRoomTokenTTL bounds how long a websocket room grant stays usable.
const DefaultRoomTokenTTL = 15 * time.Minute

// JWTMiddleware returns a JWT auth middleware configured for HS256 tokens.
// Room tokens share the secret but are rejected here: a grant scoped to one
// websocket room must never authenticate operator routes.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		TokenLookup: "header:Authorization:Bearer ,query:token",
		Skipper:     skipper,
		ParseTokenFunc: func(c echo.Context, tokenString string) (any, error) {
			token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil {
				return nil, err
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				return nil, fmt.Errorf("invalid token")
			}
			if claimString(claims, claimType) == roomTokenType {
				return nil, fmt.Errorf("room token is not an operator credential")
			}
			return token, nil
		},
	})
}

// UserIDFromContext extracts the operator id from JWT claims.
func UserIDFromContext(c echo.Context) (string, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	if userID := claimString(claims, claimUserID); userID != "" {
		return userID, nil
	}
	if userID := claimString(claims, claimSubject); userID != "" {
		return userID, nil
	}
	return "", echo.NewHTTPError(http.StatusUnauthorized, "user id missing")
}

// GenerateToken creates a signed JWT for the operator.
func GenerateToken(userID, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims := jwt.MapClaims{
		claimSubject: userID,
		claimUserID:  userID,
		"jti":        uuid.NewString(),
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// RoomTokens issues and verifies conversation-scoped websocket grants. A
// room token is never accepted on HTTP routes: the typ claim separates it
// from operator tokens even though both are HS256 under the same secret.
type RoomTokens struct {
	secret string
	ttl    time.Duration
}

// NewRoomTokens creates a room token authority.
func NewRoomTokens(secret string, ttl time.Duration) *RoomTokens {
	if ttl <= 0 {
		ttl = DefaultRoomTokenTTL
	}
	return &RoomTokens{secret: secret, ttl: ttl}
}

// Issue creates a token granting subscription to one conversation room.
func (r *RoomTokens) Issue(conversationID, userID string) (string, time.Time, error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", time.Time{}, fmt.Errorf("conversation id is required")
	}
	if strings.TrimSpace(r.secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(r.ttl)
	claims := jwt.MapClaims{
		claimType:           roomTokenType,
		claimConversationID: conversationID,
		claimUserID:         userID,
		"jti":               uuid.NewString(),
		"iat":               now.Unix(),
		"exp":               expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(r.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyRoomToken checks signature, expiry and token type, and returns the
// conversation id the token grants.
func (r *RoomTokens) VerifyRoomToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(r.secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("parse room token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid room token")
	}
	if claimString(claims, claimType) != roomTokenType {
		return "", fmt.Errorf("not a room token")
	}
	conversationID := claimString(claims, claimConversationID)
	if conversationID == "" {
		return "", fmt.Errorf("room token missing conversation id")
	}
	return conversationID, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
