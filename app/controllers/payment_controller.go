package controllers

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
	"github.com/e-fakture/sefsync/app/repository"
	"github.com/e-fakture/sefsync/internal/pkg/middleware"
)

var paymentValidate = validator.New()

type createPaymentRequest struct {
	InvoiceID   uint   `json:"invoice_id" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
	Reference   string `json:"reference" validate:"omitempty,max=100"`
	PaidAt      string `json:"paid_at" validate:"omitempty"`
}

// HandleCreatePayment records a payment against one of the company's
// invoices. Mutating and safe to retry, so it runs behind the idempotency
// middleware.
func HandleCreatePayment(c *fiber.Ctx) error {
	company := middleware.CompanyFromContext(c)
	if company == nil {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing company context")
	}

	var req createPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Body must be valid JSON")
	}
	if err := paymentValidate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", err.Error())
	}

	paidAt := time.Now()
	if req.PaidAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.PaidAt)
		if err != nil {
			return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "paid_at must be RFC 3339")
		}
		paidAt = parsed
	}

	repos := repository.GetGlobalFactory()
	if _, err := repos.GetInvoiceRepository().GetByCompanyAndID(company.ID, req.InvoiceID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Invoice not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load invoice")
	}

	payment := &models.Payment{
		CompanyID:   company.ID,
		InvoiceID:   req.InvoiceID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Reference:   req.Reference,
		PaidAt:      paidAt,
	}
	if payment.Currency == "" {
		payment.Currency = "RSD"
	}
	if err := repos.GetPaymentRepository().Create(payment); err != nil {
		log.Errorf("[Payment] create failed for invoice %d: %v", req.InvoiceID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to record payment")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":           payment.ID,
		"invoice_id":   payment.InvoiceID,
		"amount_cents": payment.AmountCents,
		"currency":     payment.Currency,
		"reference":    payment.Reference,
		"paid_at":      payment.PaidAt,
	})
}

// HandleListPayments returns payments recorded against an invoice.
func HandleListPayments(c *fiber.Ctx) error {
	company := middleware.CompanyFromContext(c)
	if company == nil {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing company context")
	}
	id, ok := paramUint(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invoice id must be a positive integer")
	}

	repos := repository.GetGlobalFactory()
	if _, err := repos.GetInvoiceRepository().GetByCompanyAndID(company.ID, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Invoice not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load invoice")
	}

	payments, err := repos.GetPaymentRepository().ListByInvoice(id)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load payments")
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"payments": payments, "count": len(payments)})
}
