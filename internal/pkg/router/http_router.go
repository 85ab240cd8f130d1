package router

import (
	"github.com/keygate-io/keygate/app/controllers"
	"github.com/keygate-io/keygate/internal/pkg/constants"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Billing provider webhooks (signature-verified in the controller)
	app.Post(constants.WebhookBillingRoute, controllers.HandleBillingWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
