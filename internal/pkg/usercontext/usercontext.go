package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext is the resolved principal attached to a request after the auth
// filter accepts its credential. Handlers read it instead of re-verifying.
type UserContext struct {
	UserID         uint   `json:"user_id"`
	DisplayName    string `json:"display_name"`
	IsLoggedIn     bool   `json:"is_logged_in"`
	SessionTokenID uint   `json:"-"`
}

// Set attaches the principal to the request's Locals.
func Set(c *fiber.Ctx, ctx UserContext) {
	c.Locals(KeyUserContext, ctx)
	c.Locals(KeyAuthed, ctx.IsLoggedIn)
	c.Locals(KeyUserID, ctx.UserID)
	c.Locals(KeyDisplayName, ctx.DisplayName)
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx := c.Locals(KeyUserContext); ctx != nil {
		if uc, ok := ctx.(UserContext); ok {
			return uc
		}
	}
	return UserContext{IsLoggedIn: false}
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}
