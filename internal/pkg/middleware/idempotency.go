package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/e-fakture/sefsync/internal/pkg/idempotency"
)

const (
	// IdempotencyKeyHeader carries the client-chosen request token.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader marks responses served from the cache.
	IdempotentReplayHeader = "X-Idempotent-Replay"

	// reservationPoll is how often a concurrent duplicate re-checks for the
	// first request's outcome while it waits.
	reservationPoll = 100 * time.Millisecond
)

// IdempotencyMiddleware replays cached outcomes for repeated mutating
// requests that carry the same Idempotency-Key. Requests without the header
// pass through untouched.
func IdempotencyMiddleware(store *idempotency.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead {
			return c.Next()
		}

		token := c.Get(IdempotencyKeyHeader)
		if token == "" {
			return c.Next()
		}
		if !idempotency.ValidToken(token) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid_idempotency_key",
				"message": "Idempotency-Key must be a UUID or at least 16 alphanumeric characters",
			})
		}

		actor := "anonymous"
		if company := CompanyFromContext(c); company != nil {
			actor = strconv.FormatUint(uint64(company.ID), 10)
		}
		key := idempotency.Key(actor, c.Method(), c.Path(), token)
		ctx := c.Context()

		if rec, ok := store.Get(ctx, key); ok {
			return replay(c, rec)
		}

		// First request holds a reservation while its handler runs so that
		// concurrent duplicates wait for the outcome instead of executing
		// the handler a second time. A duplicate waits up to the reservation
		// lifetime: it replays the outcome the moment it is published, or
		// takes the reservation over when the holder released it without a
		// cacheable outcome.
		if !store.Reserve(ctx, key) {
			deadline := time.Now().Add(idempotency.ReservationTTL)
			acquired := false
			for time.Now().Before(deadline) {
				time.Sleep(reservationPoll)
				if rec, ok := store.Get(ctx, key); ok {
					return replay(c, rec)
				}
				if store.Reserve(ctx, key) {
					acquired = true
					break
				}
			}
			if !acquired {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"success": false,
					"error":   "request_in_flight",
					"message": "A request with this Idempotency-Key is still being processed",
				})
			}
		}
		defer store.Release(ctx, key)

		if err := c.Next(); err != nil {
			return err
		}

		// Only successful outcomes are worth replaying. Failures stay
		// uncached so the client can retry with the same key.
		status := c.Response().StatusCode()
		if status >= 200 && status < 300 {
			store.Put(ctx, key, &idempotency.Record{
				StatusCode:  status,
				ContentType: string(c.Response().Header.ContentType()),
				Body:        append([]byte(nil), c.Response().Body()...),
				CreatedAt:   time.Now(),
			})
		} else {
			log.Debugf("[Idempotency] not caching status %d for key %s", status, key[:8])
		}
		return nil
	}
}

func replay(c *fiber.Ctx, rec *idempotency.Record) error {
	c.Set(IdempotentReplayHeader, "true")
	if rec.ContentType != "" {
		c.Set(fiber.HeaderContentType, rec.ContentType)
	}
	return c.Status(rec.StatusCode).Send(rec.Body)
}
