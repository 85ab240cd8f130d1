package middleware

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/keygate-io/keygate/app/models"
	"github.com/keygate-io/keygate/app/repository"
)

// Locals keys set by LicenseKeyMiddleware for downstream handlers.
const (
	KeyLicense    = "LICENSE"
	KeyLicenseKey = "LICENSE_KEY"
)

// LicenseKeyMiddleware authenticates requests carrying a license key header.
// The license is loaded and validated once, then stored in the request locals
// so handlers do not hit the database twice.
func LicenseKeyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := ExtractLicenseKey(c)
		if key == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing license key"})
		}

		repo := repository.GetGlobalFactory().GetLicenseRepository()
		lic, err := repo.GetByKey(key)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid license key"})
			}
			log.Printf("license lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "License verification failed"})
		}

		if !lic.IsUsable(time.Now()) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "License inactive or expired"})
		}

		c.Locals(KeyLicense, lic)
		c.Locals(KeyLicenseKey, key)

		return c.Next()
	}
}

// LicenseFromLocals returns the license stored by LicenseKeyMiddleware.
func LicenseFromLocals(c *fiber.Ctx) *models.License {
	if lic, ok := c.Locals(KeyLicense).(*models.License); ok {
		return lic
	}
	return nil
}

// ExtractLicenseKey reads the license key from the X-License-Key header or a
// bearer Authorization header.
func ExtractLicenseKey(c *fiber.Ctx) string {
	key := strings.TrimSpace(c.Get("X-License-Key"))
	if key != "" {
		return key
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
