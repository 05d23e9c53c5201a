package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
	"github.com/e-fakture/sefsync/app/repository"
	"github.com/e-fakture/sefsync/internal/pkg/database"
	"github.com/e-fakture/sefsync/internal/pkg/invoicestatus"
	"github.com/e-fakture/sefsync/internal/pkg/middleware"
	"github.com/e-fakture/sefsync/internal/pkg/sef"
)

// HandleInvoiceSend starts the outbound submission for an invoice. A second
// send while a lineage is still open returns the existing lineage instead of
// contacting the exchange again.
func HandleInvoiceSend(c *fiber.Ctx) error {
	company := middleware.CompanyFromContext(c)
	if company == nil {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing company context")
	}
	id, ok := paramUint(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invoice id must be a positive integer")
	}

	inv, err := repository.GetGlobalFactory().GetInvoiceRepository().GetByCompanyAndID(company.ID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Invoice not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load invoice")
	}

	svc := sef.NewSubmissionServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sub, started, err := svc.SubmitInvoice(ctx, company, inv)
	switch {
	case err == nil:
		return c.Status(fiber.StatusOK).JSON(submissionJSON(inv, sub, started))
	case errors.Is(err, sef.ErrSubmissionInFlight):
		return c.Status(fiber.StatusOK).JSON(submissionJSON(inv, sub, false))
	case errors.Is(err, sef.ErrMaintenance):
		return jsonError(c, fiber.StatusServiceUnavailable, "exchange_maintenance", "Exchange is in a maintenance window, submission deferred")
	case errors.Is(err, sef.ErrRetriesExhausted):
		return jsonError(c, fiber.StatusBadGateway, "exchange_unreachable", "Exchange kept failing, submission marked failed")
	default:
		var rejection *sef.RejectionError
		if errors.As(err, &rejection) {
			return jsonError(c, fiber.StatusUnprocessableEntity, "exchange_rejected", rejection.Error())
		}
		log.Errorf("[Invoice] submission of invoice %d failed: %v", id, err)
		return jsonError(c, fiber.StatusInternalServerError, "submission_failed", "Submission failed")
	}
}

// HandleInvoiceStatus returns the locally tracked state. With ?live=1 the
// exchange is polled first and any newer status folded in through the state
// machine before answering.
func HandleInvoiceStatus(c *fiber.Ctx) error {
	company := middleware.CompanyFromContext(c)
	if company == nil {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing company context")
	}
	id, ok := paramUint(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invoice id must be a positive integer")
	}

	inv, err := repository.GetGlobalFactory().GetInvoiceRepository().GetByCompanyAndID(company.ID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Invoice not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load invoice")
	}

	if c.QueryBool("live") && inv.SEFID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client := sef.DefaultClientFactory(company)
		exchangeStatus, err := client.PollStatus(ctx, inv.SEFID)
		if err != nil {
			log.Warnf("[Invoice] live poll for invoice %d failed: %v", id, err)
		} else if target, ok := invoicestatus.FromExchange(exchangeStatus); ok {
			status := invoicestatus.NewServiceFromDB(database.GetDB())
			if _, err := status.Apply(ctx, invoicestatus.Transition{
				Invoice:   inv,
				Target:    target,
				EventType: "POLL",
				EventTime: time.Now(),
			}); err != nil {
				log.Warnf("[Invoice] applying polled status for invoice %d failed: %v", id, err)
			}
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":                inv.ID,
		"invoice_number":    inv.InvoiceNumber,
		"document_type":     inv.DocumentType,
		"status":            inv.Status,
		"sef_id":            inv.SEFID,
		"status_changed_at": inv.StatusChangedAt,
	})
}

// HandleListAnomalies lists recorded status conflicts for the company.
// ?unreviewed=1 narrows to rows still awaiting review.
func HandleListAnomalies(c *fiber.Ctx) error {
	company := middleware.CompanyFromContext(c)
	if company == nil {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing company context")
	}

	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	status := invoicestatus.NewServiceFromDB(database.GetDB())
	anomalies, err := status.Anomalies(company.ID, c.QueryBool("unreviewed"), limit)
	if err != nil {
		log.Errorf("[Invoice] listing anomalies for company %d failed: %v", company.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load anomalies")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"anomalies": anomalies, "count": len(anomalies)})
}

func submissionJSON(inv *models.Invoice, sub *models.ExchangeSubmission, started bool) fiber.Map {
	return fiber.Map{
		"submission_id":  sub.UUID,
		"status":         sub.Status,
		"attempt_count":  sub.AttemptCount,
		"sef_id":         sub.SEFID,
		"invoice_status": inv.Status,
		"started":        started,
	}
}
