// Package middleware provides the Fiber middleware shared by every route:
// authentication, request logging, tracing and rate limiting.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"parley/internal/config"
	"parley/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// UserIDLocal is the Fiber locals key holding the authenticated user id.
const UserIDLocal = "userID"

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

var (
	errMissingSubject = errors.New("Invalid token structure - missing subject")
	errInvalidToken   = errors.New("Invalid or expired token")
)

// AuthRequired enforces a bearer token on protected routes.
func AuthRequired(c *fiber.Ctx) error {
	token, err := bearerToken(c.Get("Authorization"))
	if err != nil {
		return unauthorized(c, err.Error())
	}
	return authenticate(c, token)
}

// WebSocketAuthRequired accepts the token from the "token" query parameter,
// since browsers cannot set headers on a websocket upgrade, and falls back to
// the Authorization header.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		if c.Get("Authorization") == "" {
			return unauthorized(c, "Token required")
		}
		var err error
		if token, err = bearerToken(c.Get("Authorization")); err != nil {
			return unauthorized(c, err.Error())
		}
	}
	return authenticate(c, token)
}

// UserID returns the authenticated user id stored by the auth middleware.
func UserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals(UserIDLocal).(uint)
	return id, ok && id != 0
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("Authorization header required")
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("Invalid authorization header format")
	}
	return parts[1], nil
}

func authenticate(c *fiber.Ctx, raw string) error {
	userID, err := ParseUserID(raw)
	if err != nil {
		return unauthorized(c, err.Error())
	}
	c.Locals(UserIDLocal, userID)
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, userID))
	return c.Next()
}

// ParseUserID validates an HMAC-signed token and returns its subject as a
// user id.
func ParseUserID(raw string) (uint, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, errInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return 0, errMissingSubject
	}
	id, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("Invalid user ID in token")
	}
	return uint(id), nil
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
		Error: msg,
		Code:  models.CodeUnauthorized,
	})
}
