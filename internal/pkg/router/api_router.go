package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/looplist/looplist/internal/pkg/cache"
	"github.com/looplist/looplist/internal/pkg/env"
	"github.com/looplist/looplist/internal/pkg/metrics/counter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    limiterStorage(),
	}))

	api.Get("/ping", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"ping": "pong",
		})
	})

	api.Get("/stats", func(ctx *fiber.Ctx) error {
		logins, refreshes, failures := counter.Today()
		return ctx.JSON(fiber.Map{
			"logins":    logins,
			"refreshes": refreshes,
			"failures":  failures,
		})
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

// limiterStorage backs the rate limiter with Redis so counters survive
// restarts and are shared between instances. Uses the same connection as the
// cache, on a separate database.
func limiterStorage() *redisstorage.Storage {
	host, port := "localhost", 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		addr := client.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1, // Separate database for limiter counters
		Reset:    false,
	})
}
