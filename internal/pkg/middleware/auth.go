package middleware

import (
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/looplist/looplist/app/repository"
	"github.com/looplist/looplist/internal/pkg/env"
	"github.com/looplist/looplist/internal/pkg/metrics/counter"
	"github.com/looplist/looplist/internal/pkg/token"
	"github.com/looplist/looplist/internal/pkg/usercontext"
)

// SessionCookieName carries the access token for the first-party web client.
// Extension/API clients send the same token as a bearer header instead.
const SessionCookieName = "ll_session"

// AuthMiddleware verifies the request credential against the token store and
// attaches the resolved principal. It performs no writes.
//
// Outcomes: no credential or a dead one answer 401; an unreachable store
// answers 503 so clients do not treat an outage as a revoked session.
func AuthMiddleware(issuer *token.Issuer, users repository.UserRepository) fiber.Handler {
	bypassID := bypassUserID()

	return func(c *fiber.Ctx) error {
		if bypassID != 0 {
			usercontext.Set(c, usercontext.UserContext{
				UserID:      bypassID,
				DisplayName: "bypass",
				IsLoggedIn:  true,
			})
			return c.Next()
		}

		credential := ExtractAccessToken(c)
		if credential == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "no_credential",
				"message": "login required",
			})
		}

		record, err := issuer.Verify(credential)
		if err != nil {
			if errors.Is(err, token.ErrInvalidToken) {
				_ = counter.AddAuthFailure()
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error":   "invalid_or_expired",
					"message": "session expired, please login again",
				})
			}
			log.Printf("auth middleware: token store unreachable: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "service_unavailable",
				"message": "please try again later",
			})
		}

		user, err := users.GetByID(record.UserID)
		if err != nil {
			// The session record exists but its user is gone or the store
			// failed; treat a missing user as a dead credential.
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error":   "invalid_or_expired",
					"message": "session expired, please login again",
				})
			}
			log.Printf("auth middleware: user lookup failed: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "service_unavailable",
				"message": "please try again later",
			})
		}

		usercontext.Set(c, usercontext.UserContext{
			UserID:         user.ID,
			DisplayName:    user.DisplayName,
			IsLoggedIn:     true,
			SessionTokenID: record.ID,
		})

		return c.Next()
	}
}

// OptionalAuthMiddleware attaches the principal when a valid credential is
// present but never rejects the request. Used on pages that render for
// guests and logged-in users alike.
func OptionalAuthMiddleware(issuer *token.Issuer, users repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		credential := ExtractAccessToken(c)
		if credential == "" {
			return c.Next()
		}
		record, err := issuer.Verify(credential)
		if err != nil {
			return c.Next()
		}
		user, err := users.GetByID(record.UserID)
		if err != nil {
			return c.Next()
		}
		usercontext.Set(c, usercontext.UserContext{
			UserID:         user.ID,
			DisplayName:    user.DisplayName,
			IsLoggedIn:     true,
			SessionTokenID: record.ID,
		})
		return c.Next()
	}
}

// ExtractAccessToken pulls the credential from the bearer header or, for the
// web client, the session cookie.
func ExtractAccessToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(c.Cookies(SessionCookieName))
}

// bypassUserID resolves the non-production test principal. Hard-disabled in
// production deployments regardless of configuration.
func bypassUserID() uint {
	if env.IsProd() {
		return 0
	}
	raw := env.GetEnv("AUTH_BYPASS_USER_ID", "")
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		log.Printf("auth middleware: ignoring invalid AUTH_BYPASS_USER_ID %q", raw)
		return 0
	}
	log.Printf("auth middleware: BYPASS ENABLED for user %d (non-production only)", id)
	return uint(id)
}
