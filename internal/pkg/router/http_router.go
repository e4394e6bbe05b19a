package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/looplist/looplist/app/controllers"
	"github.com/looplist/looplist/app/repository"
	"github.com/looplist/looplist/internal/pkg/constants"
	"github.com/looplist/looplist/internal/pkg/database"
	"github.com/looplist/looplist/internal/pkg/env"
	"github.com/looplist/looplist/internal/pkg/middleware"
	"github.com/looplist/looplist/internal/pkg/oauth"
	"github.com/looplist/looplist/internal/pkg/token"
)

type HttpRouter struct {
}

// Shared between the http and api routers; built once in InstallRouter.
var (
	authController *controllers.AuthController
	requireAuth    fiber.Handler
)

func (h HttpRouter) InstallRouter(app *fiber.App) {
	repository.InitializeFactory(database.GetDB())
	factory := repository.GetGlobalFactory()

	issuer := token.NewIssuer(
		factory.GetSessionTokenRepository(),
		envDuration("SESSION_TOKEN_TTL", token.DefaultSessionTTL),
		envDuration("ACCESS_TOKEN_TTL", token.DefaultAccessTTL),
	)

	authController = controllers.NewAuthController(
		oauth.NewProviderFromEnv(),
		oauth.NewStateStore(),
		issuer,
		factory.GetUserRepository(),
	)
	requireAuth = middleware.AuthMiddleware(issuer, factory.GetUserRepository())

	group := app.Group("", cors.New())
	group.Get("/", middleware.OptionalAuthMiddleware(issuer, factory.GetUserRepository()), controllers.HandleStart)

	group.Get(constants.RouteAuthLogin, authController.HandleOAuthLogin)
	group.Get(constants.RouteAuthCallback, authController.HandleOAuthCallback)
	group.Post(constants.RouteAuthExchange, authController.HandleExchange)
	group.Post(constants.RouteAuthRefresh, authController.HandleRefresh)
	group.Post(constants.RouteAuthLogout, authController.HandleLogout)
	group.Post(constants.RouteAuthLogoutAll, requireAuth, authController.HandleLogoutAll)
	group.Get(constants.RouteAuthUser, requireAuth, authController.HandleGetUser)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
