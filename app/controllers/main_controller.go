package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/looplist/looplist/internal/pkg/usercontext"
)

// HandleStart is the landing endpoint the OAuth flow redirects back to.
// The web frontend is served separately; this returns the login state plus
// any pending flash notice.
func HandleStart(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)

	resp := fiber.Map{
		"app":          "looplist",
		"is_logged_in": uc.IsLoggedIn,
	}
	if uc.IsLoggedIn {
		resp["display_name"] = uc.DisplayName
	}
	if fm := flash.Get(c); len(fm) > 0 {
		resp["flash"] = fm
	}

	return c.JSON(resp)
}
