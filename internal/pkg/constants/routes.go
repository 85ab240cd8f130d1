package constants

// Static route constants
const (
	WebhookBillingRoute = "/webhooks/billing"
	APIv1Route          = "/api/v1"
)
