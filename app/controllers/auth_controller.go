package controllers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"
	"gorm.io/gorm"

	"github.com/looplist/looplist/app/models"
	"github.com/looplist/looplist/app/repository"
	"github.com/looplist/looplist/internal/pkg/env"
	"github.com/looplist/looplist/internal/pkg/middleware"
	"github.com/looplist/looplist/internal/pkg/metrics/counter"
	"github.com/looplist/looplist/internal/pkg/oauth"
	"github.com/looplist/looplist/internal/pkg/token"
	"github.com/looplist/looplist/internal/pkg/usercontext"
	"github.com/looplist/looplist/internal/pkg/utils"
)

// BindingCookieName ties the CSRF state to the browser that started the login.
const BindingCookieName = "ll_oauth_bind"

// DeviceIDHeader lets the extension client tag its session records.
const DeviceIDHeader = "X-Device-ID"

// SessionResponse is the success body for exchange and refresh calls.
type SessionResponse struct {
	AccessToken      string         `json:"accessToken"`
	RefreshToken     string         `json:"refreshToken"`
	ExpiresIn        int            `json:"expiresIn"`
	RefreshExpiresIn int            `json:"refreshExpiresIn"`
	User             models.Profile `json:"user"`
	IsNewUser        bool           `json:"isNewUser"`
}

// AuthController coordinates the authorization-code exchange and the session
// token endpoints.
type AuthController struct {
	provider *oauth.Provider
	states   *oauth.StateStore
	issuer   *token.Issuer
	users    repository.UserRepository
}

func NewAuthController(provider *oauth.Provider, states *oauth.StateStore, issuer *token.Issuer, users repository.UserRepository) *AuthController {
	return &AuthController{
		provider: provider,
		states:   states,
		issuer:   issuer,
		users:    users,
	}
}

// HandleOAuthLogin starts the provider flow: bind a fresh CSRF state to this
// browser and send it to the consent screen.
func (ac *AuthController) HandleOAuthLogin(c *fiber.Ctx) error {
	bindID, err := oauth.NewBindingID()
	if err != nil {
		log.Printf("oauth login: binding id generation failed: %v", err)
		return ac.loginFailedRedirect(c, "Login is currently unavailable, please try again later")
	}

	state, err := ac.states.Issue(bindID)
	if err != nil {
		log.Printf("oauth login: state issue failed: %v", err)
		return ac.loginFailedRedirect(c, "Login is currently unavailable, please try again later")
	}

	c.Cookie(&fiber.Cookie{
		Name:     BindingCookieName,
		Value:    bindID,
		MaxAge:   int(oauth.StateTTL.Seconds()),
		HTTPOnly: true,
		Secure:   !env.IsDev(),
		SameSite: "Lax",
	})

	return c.Redirect(ac.provider.AuthorizeURL(state), fiber.StatusSeeOther)
}

// HandleOAuthCallback completes the provider flow for the first-party web
// client: on success the access token lands in an HTTP-only cookie.
func (ac *AuthController) HandleOAuthCallback(c *fiber.Ctx) error {
	pair, user, isNew, err := ac.completeExchange(c)
	clearBindingCookie(c)
	if err != nil {
		return ac.redirectForError(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    pair.AccessToken,
		MaxAge:   pair.RefreshExpiresIn,
		HTTPOnly: true,
		Secure:   !env.IsDev(),
		SameSite: "Lax",
	})

	fm := fiber.Map{"type": "success", "message": "Welcome back, " + user.DisplayName + "!"}
	if isNew {
		fm["message"] = "Welcome to LoopList, " + user.DisplayName + "!"
	}
	return flash.WithSuccess(c, fm).Redirect("/")
}

// HandleExchange completes the provider flow for the extension client and
// returns the token pair as JSON instead of a cookie.
func (ac *AuthController) HandleExchange(c *fiber.Ctx) error {
	pair, user, isNew, err := ac.completeExchange(c)
	clearBindingCookie(c)
	if err != nil {
		return ac.jsonForError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(SessionResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		ExpiresIn:        pair.ExpiresIn,
		RefreshExpiresIn: pair.RefreshExpiresIn,
		User:             user.ToProfile(),
		IsNewUser:        isNew,
	})
}

// HandleRefresh rotates a session: the presented refresh token dies and a
// fresh pair replaces it atomically.
func (ac *AuthController) HandleRefresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.BodyParser(&body); err != nil || body.RefreshToken == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "no_credential",
			"message": "refresh token required",
		})
	}

	record, err := ac.issuer.VerifyRefresh(body.RefreshToken)
	if err != nil {
		if errors.Is(err, token.ErrInvalidToken) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "invalid_or_expired",
				"message": "refresh token is no longer valid",
			})
		}
		log.Printf("refresh: token store unreachable: %v", err)
		return serviceUnavailable(c)
	}

	pair, _, err := ac.issuer.Rotate(record, deviceMeta(c))
	if err != nil {
		log.Printf("refresh: rotate failed for session %d: %v", record.ID, err)
		return serviceUnavailable(c)
	}
	if err := counter.AddRefresh(); err != nil {
		log.Printf("refresh counter increment failed: %v", err)
	}

	user, err := ac.users.GetByID(record.UserID)
	if err != nil {
		log.Printf("refresh: user %d lookup failed: %v", record.UserID, err)
		return serviceUnavailable(c)
	}

	return c.JSON(SessionResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		ExpiresIn:        pair.ExpiresIn,
		RefreshExpiresIn: pair.RefreshExpiresIn,
		User:             user.ToProfile(),
	})
}

// HandleLogout deletes the presented session record and clears the cookie.
// Logout is idempotent: an unknown credential still ends with a cleared
// client state and a 200.
func (ac *AuthController) HandleLogout(c *fiber.Ctx) error {
	credential := middleware.ExtractAccessToken(c)
	if credential != "" {
		if record, err := ac.issuer.Verify(credential); err == nil {
			if err := ac.issuer.Revoke(record.ID); err != nil {
				log.Printf("logout: revoke session %d failed: %v", record.ID, err)
				return serviceUnavailable(c)
			}
		}
	}

	clearSessionCookie(c)
	return c.JSON(fiber.Map{"message": "logged out"})
}

// HandleLogoutAll revokes every session record for the authenticated user.
func (ac *AuthController) HandleLogoutAll(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	count, err := ac.issuer.RevokeAll(uc.UserID)
	if err != nil {
		log.Printf("logout-all: revoke for user %d failed: %v", uc.UserID, err)
		return serviceUnavailable(c)
	}

	clearSessionCookie(c)
	return c.JSON(fiber.Map{"message": "logged out everywhere", "sessions": count})
}

// HandleGetUser returns the identity snapshot for the authenticated user
// plus the number of devices with a live session.
func (ac *AuthController) HandleGetUser(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	user, err := ac.users.GetByID(uc.UserID)
	if err != nil {
		log.Printf("get user: lookup %d failed: %v", uc.UserID, err)
		return serviceUnavailable(c)
	}
	sessions, err := ac.issuer.Sessions(uc.UserID)
	if err != nil {
		log.Printf("get user: session listing for %d failed: %v", uc.UserID, err)
		return serviceUnavailable(c)
	}
	return c.JSON(fiber.Map{"user": user.ToProfile(), "sessions": len(sessions)})
}

// completeExchange drives the callback protocol. The only state mutation
// guaranteed on failure is CSRF-state consumption.
func (ac *AuthController) completeExchange(c *fiber.Ctx) (*token.Pair, *models.User, bool, error) {
	// Provider sent the user back with an error before any state round-trip
	// happened, so the bound state is left alone.
	if c.Query("error") != "" {
		return nil, nil, false, oauth.ErrUserCancelled
	}

	state := c.Query("state")
	boundID, err := ac.states.Consume(state)
	if err != nil {
		if errors.Is(err, oauth.ErrStateNotFound) {
			return nil, nil, false, oauth.ErrCsrfViolation
		}
		return nil, nil, false, err
	}
	if bind := c.Cookies(BindingCookieName); bind == "" || bind != boundID {
		return nil, nil, false, oauth.ErrCsrfViolation
	}

	code := c.Query("code")
	if code == "" {
		return nil, nil, false, oauth.ErrMissingCode
	}

	ctx := c.UserContext()
	providerToken, err := ac.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, false, err
	}

	info, err := ac.provider.FetchProfile(ctx, providerToken)
	if err != nil {
		return nil, nil, false, err
	}

	user, isNew, err := ac.upsertIdentity(info)
	if err != nil {
		return nil, nil, false, err
	}

	pair, _, err := ac.issuer.Mint(user.ID, deviceMeta(c))
	if err != nil {
		return nil, nil, false, err
	}

	if err := counter.AddLogin(); err != nil {
		log.Printf("login counter increment failed: %v", err)
	}

	return pair, user, isNew, nil
}

// upsertIdentity creates or refreshes the local identity for a provider
// profile. Soft-deleted identities come back to life here.
func (ac *AuthController) upsertIdentity(info *oauth.UserInfo) (*models.User, bool, error) {
	now := time.Now()

	user, err := ac.users.GetByExternalIDUnscoped(info.ID)
	if err != nil {
		if !isRecordNotFound(err) {
			return nil, false, err
		}
		user = &models.User{
			ExternalID:  info.ID,
			DisplayName: firstNonEmpty(info.Name, info.Email, "User"),
			Email:       info.Email,
			AvatarURL:   avatarFor(info),
			Status:      models.STATUS_ACTIVE,
			LastLoginAt: &now,
		}
		if err := user.Validate(); err != nil {
			return nil, false, err
		}
		if err := ac.users.Create(user); err != nil {
			return nil, false, err
		}
		return user, true, nil
	}

	if user.DeletedAt.Valid {
		if err := ac.users.Restore(user.ID); err != nil {
			return nil, false, err
		}
		user.DeletedAt.Valid = false
	}

	// Profile refresh on every login
	user.DisplayName = firstNonEmpty(info.Name, user.DisplayName)
	user.Email = firstNonEmpty(info.Email, user.Email)
	user.AvatarURL = avatarFor(info)
	user.LastLoginAt = &now
	if err := ac.users.Update(user); err != nil {
		return nil, false, err
	}

	return user, false, nil
}

// redirectForError maps an exchange failure to a neutral flash redirect.
// Provider error details stay in the server log.
func (ac *AuthController) redirectForError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, oauth.ErrUserCancelled):
		return flash.WithInfo(c, fiber.Map{"type": "info", "message": "Login cancelled"}).Redirect("/")
	case errors.Is(err, oauth.ErrCsrfViolation), errors.Is(err, oauth.ErrMissingCode):
		log.Printf("oauth callback rejected: %v", err)
		return ac.loginFailedRedirect(c, "Something went wrong, please retry login")
	default:
		log.Printf("oauth callback failed: %v", err)
		return ac.loginFailedRedirect(c, "Login failed, please try again later")
	}
}

// jsonForError is the extension-flow counterpart of redirectForError.
func (ac *AuthController) jsonForError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, oauth.ErrUserCancelled):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_cancelled", "message": "login cancelled",
		})
	case errors.Is(err, oauth.ErrCsrfViolation):
		log.Printf("oauth exchange rejected: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "csrf_violation", "message": "please retry login",
		})
	case errors.Is(err, oauth.ErrMissingCode):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing_code", "message": "please retry login",
		})
	default:
		log.Printf("oauth exchange failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "exchange_failed", "message": "login failed, please try again later",
		})
	}
}

func (ac *AuthController) loginFailedRedirect(c *fiber.Ctx, message string) error {
	return flash.WithError(c, fiber.Map{"type": "error", "message": message}).Redirect("/")
}

func deviceMeta(c *fiber.Ctx) token.DeviceMeta {
	return token.DeviceMeta{
		DeviceID:  c.Get(DeviceIDHeader),
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
}

func clearBindingCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     BindingCookieName,
		Value:    "",
		MaxAge:   -1,
		HTTPOnly: true,
		SameSite: "Lax",
	})
}

func clearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		MaxAge:   -1,
		HTTPOnly: true,
		SameSite: "Lax",
	})
}

func serviceUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error":   "service_unavailable",
		"message": "please try again later",
	})
}

// avatarFor falls back to a Gravatar when the provider profile has no
// picture but does carry an email.
func avatarFor(info *oauth.UserInfo) string {
	if info.Picture != "" {
		return info.Picture
	}
	if info.Email != "" {
		return utils.GetGravatarURL(info.Email, 200)
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
