package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
	"github.com/e-fakture/sefsync/app/repository"
	"github.com/e-fakture/sefsync/internal/pkg/database"
)

// CompanyLocalKey is the fiber.Ctx locals key holding the authenticated
// *models.Company.
const CompanyLocalKey = "COMPANY"

// APITokenAuthMiddleware authenticates requests carrying a company API token.
func APITokenAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractTokenFromHeader(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "unauthorized", "message": "Missing API token"})
		}

		db := database.GetDB()
		if db == nil {
			log.Error("[Auth] database unavailable")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal_server_error", "message": "Database unavailable"})
		}

		hash := models.HashAPIToken(token)
		repo := repository.GetGlobalFactory().GetCompanyRepository()
		company, err := repo.GetByTokenHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "unauthorized", "message": "Invalid API token"})
			}
			log.Errorf("[Auth] token lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal_server_error", "message": "Token verification failed"})
		}

		if !company.IsActive {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "error": "forbidden", "message": "Company inactive"})
		}

		// Refresh last-used timestamp best-effort.
		now := time.Now()
		if err := db.Model(&models.Company{}).
			Where("id = ?", company.ID).
			Updates(map[string]any{"token_last_used_at": now}).Error; err != nil {
			log.Warnf("[Auth] failed to update token usage timestamp for company %d: %v", company.ID, err)
		}

		c.Locals(CompanyLocalKey, company)
		return c.Next()
	}
}

// CompanyFromContext returns the authenticated company set by
// APITokenAuthMiddleware, or nil outside an authenticated route.
func CompanyFromContext(c *fiber.Ctx) *models.Company {
	company, _ := c.Locals(CompanyLocalKey).(*models.Company)
	return company
}

func extractTokenFromHeader(c *fiber.Ctx) string {
	token := strings.TrimSpace(c.Get("X-API-Token"))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
