package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/keygate-io/keygate/app/models"
	"github.com/keygate-io/keygate/app/repository"
	"github.com/keygate-io/keygate/internal/pkg/billing"
	"github.com/keygate-io/keygate/internal/pkg/database"
	"github.com/keygate-io/keygate/internal/pkg/entitlements"
	"github.com/keygate-io/keygate/internal/pkg/license"
	"github.com/keygate-io/keygate/internal/pkg/middleware"
	"github.com/keygate-io/keygate/internal/pkg/usage"
)

type validateLicenseRequest struct {
	LicenseKey string `json:"license_key"`
	Operation  string `json:"operation"`
}

type freeLicenseRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name"`
}

func newUsageTracker() *usage.Tracker {
	// Redis counts the hot path; the transactional usage_counters rows take
	// over when Redis is unreachable.
	counters := usage.NewFallbackCounterStore(
		usage.NewRedisCounterStore(),
		repository.GetGlobalFactory().GetUsageRepository(),
	)
	return usage.NewTracker(billing.NewRepository(database.GetDB()), counters)
}

// HandleValidateLicense checks one call against the license's daily quota
// and counts it. Denials come back as 429 with the same usage shape so
// clients can show the reset time.
func HandleValidateLicense(c *fiber.Ctx) error {
	req := validateLicenseRequest{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	key := strings.TrimSpace(req.LicenseKey)
	if key == "" {
		key = middleware.ExtractLicenseKey(c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := newUsageTracker().TrackCall(ctx, key, req.Operation)
	if !result.Allowed {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"success": false,
			"error":   result.Error,
			"usage":   result,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"usage":   result,
	})
}

// HandleLicenseUsage returns the current usage snapshot without counting a
// call. The license was already authenticated by the middleware.
func HandleLicenseUsage(c *fiber.Ctx) error {
	key := middleware.ExtractLicenseKey(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := newUsageTracker().Snapshot(ctx, key)

	lic := middleware.LicenseFromLocals(c)
	resp := fiber.Map{"usage": result}
	if lic != nil {
		resp["tier"] = lic.Tier
		resp["max_servers"] = lic.MaxServers
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// HandleIssueFreeLicense provisions a free-tier license for an email
// address. The key is derived deterministically from the email, so repeated
// requests return the same key instead of minting new rows.
func HandleIssueFreeLicense(c *fiber.Ctx) error {
	req := freeLicenseRequest{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := validator.New().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "A valid email address is required"})
	}

	repo := billing.NewRepository(database.GetDB())
	user, err := repo.GetOrCreateUserByEmail(req.Email, req.Name)
	if err != nil {
		log.Printf("free license: user provisioning failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	key := license.GenerateFreeKey(user.Email)
	lic, err := repo.GetLicenseByKey(key)
	switch {
	case err == nil:
		// Already issued for this email.
	case errors.Is(err, billing.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound):
		lic = &models.License{
			UserID:     user.ID,
			LicenseKey: key,
			Tier:       string(entitlements.TierFree),
			MaxServers: entitlements.MaxServers(entitlements.TierFree),
			IsActive:   true,
		}
		if err := repo.CreateLicense(lic); err != nil {
			log.Printf("free license: create failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
		}
	default:
		log.Printf("free license: lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"license_key": lic.LicenseKey,
		"tier":        lic.Tier,
		"daily_quota": entitlements.DailyQuota(entitlements.TierFree),
	})
}
