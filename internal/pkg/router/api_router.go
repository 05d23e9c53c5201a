package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/e-fakture/sefsync/app/controllers"
	"github.com/e-fakture/sefsync/internal/pkg/cache"
	"github.com/e-fakture/sefsync/internal/pkg/env"
	"github.com/e-fakture/sefsync/internal/pkg/idempotency"
	"github.com/e-fakture/sefsync/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    limiterStorage(),
	}))

	v1 := api.Group("/v1")

	// Webhook ingress authenticates by signature, not by company token.
	v1.Post("/webhooks/sef", controllers.HandleSEFWebhook)

	store := idempotency.NewStore(cache.GetClient(), idempotency.DefaultTTL)
	authed := v1.Group("", middleware.APITokenAuthMiddleware(), middleware.IdempotencyMiddleware(store))
	authed.Post("/invoices/:id/send", controllers.HandleInvoiceSend)
	authed.Get("/invoices/:id/status", controllers.HandleInvoiceStatus)
	authed.Get("/invoices/:id/payments", controllers.HandleListPayments)
	authed.Post("/payments", controllers.HandleCreatePayment)
	authed.Get("/anomalies", controllers.HandleListAnomalies)
	authed.Post("/webhooks/sef/:id/retry", controllers.HandleWebhookRetry)
}

// limiterStorage backs the rate limiter with the shared cache so limits hold
// across instances. Uses database 1, the main cache uses 0.
func limiterStorage() *redisstorage.Storage {
	host := "localhost"
	port := 6379
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
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
