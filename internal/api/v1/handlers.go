package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/keygate-io/keygate/app/controllers"
	"github.com/keygate-io/keygate/internal/pkg/middleware"
	"github.com/keygate-io/keygate/internal/pkg/statistics"
)

// Pong is the health check response body.
type Pong struct {
	Ping string `json:"ping"`
}

// APIServer implements the v1 API surface.
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// RegisterHandlers attaches the v1 routes to the given router group.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)
	router.Post("/license/validate", s.PostLicenseValidate)
	router.Post("/license/free", s.PostLicenseFree)
	router.Get("/license/usage", middleware.LicenseKeyMiddleware(), s.GetLicenseUsage)
	router.Get("/stats", s.GetStats)
	router.Get("/stats/daily", s.GetStatsDaily)
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// PostLicenseValidate validates and counts one call against a license.
func (s *APIServer) PostLicenseValidate(c *fiber.Ctx) error {
	return controllers.HandleValidateLicense(c)
}

// PostLicenseFree issues (or re-issues) the deterministic free-tier key.
func (s *APIServer) PostLicenseFree(c *fiber.Ctx) error {
	return controllers.HandleIssueFreeLicense(c)
}

// GetLicenseUsage returns the usage snapshot for the authenticated license.
// Security is enforced via the license key middleware attached in the router.
func (s *APIServer) GetLicenseUsage(c *fiber.Ctx) error {
	return controllers.HandleLicenseUsage(c)
}

// GetStats returns cached service totals.
func (s *APIServer) GetStats(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(statistics.GetStatistics())
}

// GetStatsDaily returns the per-day call series for the trailing window.
// An optional ?days=N query narrows or widens the range.
func (s *APIServer) GetStatsDaily(c *fiber.Ctx) error {
	days := c.QueryInt("days", statistics.DefaultSeriesDays)
	series, err := statistics.DailyCallSeries(days)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"days": series})
}
