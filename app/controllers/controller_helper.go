package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// jsonError writes the API error shape shared by all endpoints.
func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": code, "message": message})
}

// paramUint parses a numeric route parameter.
func paramUint(c *fiber.Ctx, name string) (uint, bool) {
	raw := c.Params(name)
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}
