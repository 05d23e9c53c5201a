package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-fakture/sefsync/internal/pkg/idempotency"
)

func newIdempotencyTestApp(handlerStatus *int, calls *int) (*fiber.App, *idempotency.Store) {
	store := idempotency.NewStore(nil, time.Minute)
	app := fiber.New()
	app.Post("/pay", IdempotencyMiddleware(store), func(c *fiber.Ctx) error {
		*calls++
		return c.Status(*handlerStatus).JSON(fiber.Map{"call": *calls})
	})
	return app, store
}

func TestIdempotencyReplaysFirstOutcome(t *testing.T) {
	status, calls := fiber.StatusCreated, 0
	app, _ := newIdempotencyTestApp(&status, &calls)

	req := httptest.NewRequest("POST", "/pay", nil)
	req.Header.Set(IdempotencyKeyHeader, "550e8400-e29b-41d4-a716-446655440000")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(IdempotentReplayHeader))
	first, _ := io.ReadAll(resp.Body)

	req = httptest.NewRequest("POST", "/pay", nil)
	req.Header.Set(IdempotencyKeyHeader, "550e8400-e29b-41d4-a716-446655440000")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(IdempotentReplayHeader))
	second, _ := io.ReadAll(resp.Body)

	assert.Equal(t, string(first), string(second), "replay must serve the stored body")
	assert.Equal(t, 1, calls, "handler must run exactly once")
}

func TestIdempotencyDistinctKeysExecuteSeparately(t *testing.T) {
	status, calls := fiber.StatusCreated, 0
	app, _ := newIdempotencyTestApp(&status, &calls)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/pay", nil)
		req.Header.Set(IdempotencyKeyHeader, fmt.Sprintf("key%daaaaaaaaaaaaaaaa", i))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotencyInvalidToken(t *testing.T) {
	status, calls := fiber.StatusCreated, 0
	app, _ := newIdempotencyTestApp(&status, &calls)

	req := httptest.NewRequest("POST", "/pay", nil)
	req.Header.Set(IdempotencyKeyHeader, "short")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, calls, "handler must not run for an invalid key")
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	status, calls := fiber.StatusCreated, 0
	app, _ := newIdempotencyTestApp(&status, &calls)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/pay", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}
	assert.Equal(t, 2, calls, "requests without a key are never deduplicated")
}

func TestIdempotencyDoesNotCacheFailures(t *testing.T) {
	status, calls := fiber.StatusInternalServerError, 0
	app, _ := newIdempotencyTestApp(&status, &calls)

	req := httptest.NewRequest("POST", "/pay", nil)
	req.Header.Set(IdempotencyKeyHeader, "retrymeaaaaaaaaaaaaaaaa")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	// The client retries with the same key once the fault is fixed; the
	// handler must run again.
	status = fiber.StatusCreated
	req = httptest.NewRequest("POST", "/pay", nil)
	req.Header.Set(IdempotencyKeyHeader, "retrymeaaaaaaaaaaaaaaaa")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(IdempotentReplayHeader))
	assert.Equal(t, 2, calls)
}

// A duplicate arriving while the first request still holds the reservation
// waits for the outcome and replays it instead of answering 409.
func TestIdempotencyWaiterReplaysPublishedOutcome(t *testing.T) {
	status, calls := fiber.StatusCreated, 0
	app, store := newIdempotencyTestApp(&status, &calls)

	token := "waitforitaaaaaaaaaaaaaa"
	key := idempotency.Key("anonymous", "POST", "/pay", token)
	ctx := context.Background()
	require.True(t, store.Reserve(ctx, key), "seeding the holder's reservation")

	go func() {
		time.Sleep(300 * time.Millisecond)
		store.Put(ctx, key, &idempotency.Record{
			StatusCode:  fiber.StatusCreated,
			ContentType: fiber.MIMEApplicationJSON,
			Body:        []byte(`{"call":1}`),
			CreatedAt:   time.Now(),
		})
		store.Release(ctx, key)
	}()

	req := httptest.NewRequest("POST", "/pay", nil)
	req.Header.Set(IdempotencyKeyHeader, token)
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(IdempotentReplayHeader))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"call":1}`, string(body))
	assert.Equal(t, 0, calls, "the waiter must not run the handler itself")
}

// When the holder releases without publishing an outcome (its handler
// failed), a waiting duplicate takes the reservation over and executes.
func TestIdempotencyWaiterTakesOverReleasedReservation(t *testing.T) {
	status, calls := fiber.StatusCreated, 0
	app, store := newIdempotencyTestApp(&status, &calls)

	token := "takeoveraaaaaaaaaaaaaaa"
	key := idempotency.Key("anonymous", "POST", "/pay", token)
	ctx := context.Background()
	require.True(t, store.Reserve(ctx, key), "seeding the holder's reservation")

	go func() {
		time.Sleep(300 * time.Millisecond)
		store.Release(ctx, key)
	}()

	req := httptest.NewRequest("POST", "/pay", nil)
	req.Header.Set(IdempotencyKeyHeader, token)
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(IdempotentReplayHeader))
	assert.Equal(t, 1, calls, "the waiter must execute once the holder gave up")
}
