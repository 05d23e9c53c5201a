package controllers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/internal/pkg/database"
	"github.com/e-fakture/sefsync/internal/pkg/env"
	"github.com/e-fakture/sefsync/internal/pkg/sef"
)

// The verifier is shared across requests so the nonce replay cache sees
// every delivery.
var (
	webhookVerifier     *sef.Verifier
	webhookVerifierOnce sync.Once
)

func getWebhookVerifier() *sef.Verifier {
	webhookVerifierOnce.Do(func() {
		webhookVerifier = sef.NewVerifier(env.GetEnv("SEF_WEBHOOK_SECRET", ""))
	})
	return webhookVerifier
}

// HandleSEFWebhook receives exchange notifications. The payload is persisted
// before any business processing; failures after persistence are recorded on
// the stored row and acknowledged so the exchange does not redeliver forever.
func HandleSEFWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get(sef.SignatureHeader)
	timestamp := c.Get(sef.TimestampHeader)
	nonce := c.Get(sef.NonceHeader)

	if err := getWebhookVerifier().Verify(rawBody, signature, timestamp, nonce); err != nil {
		var reject *sef.RejectError
		if errors.As(err, &reject) {
			return jsonError(c, fiber.StatusUnauthorized, "unauthorized", string(reject.Reason))
		}
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "verification failed")
	}

	dispatcher := sef.NewDispatcherFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := dispatcher.Dispatch(ctx, rawBody, signature)
	if err != nil {
		log.Errorf("[Webhook] failed to persist notification: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "webhook_persist_failed", "Notification could not be stored")
	}

	return c.Status(fiber.StatusOK).JSON(webhookResultJSON(res))
}

// HandleWebhookRetry reprocesses a stored notification whose earlier
// processing failed. Cleanly processed rows are acknowledged as duplicates.
func HandleWebhookRetry(c *fiber.Ctx) error {
	id, ok := paramUint(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Webhook log id must be a positive integer")
	}

	dispatcher := sef.NewDispatcherFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := dispatcher.Retry(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Webhook log not found")
		}
		log.Errorf("[Webhook] retry of log %d failed: %v", id, err)
		return jsonError(c, fiber.StatusInternalServerError, "retry_failed", "Notification could not be reprocessed")
	}

	return c.Status(fiber.StatusOK).JSON(webhookResultJSON(res))
}

func webhookResultJSON(res *sef.DispatchResult) fiber.Map {
	m := fiber.Map{"success": true}
	switch {
	case res.Duplicate:
		m["duplicate"] = true
	case res.Ignored:
		m["ignored"] = true
	case res.Failed:
		m["processed"] = false
	default:
		m["outcome"] = res.Outcome.String()
	}
	return m
}
