package controllers

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/keygate-io/keygate/internal/pkg/billing"
	"github.com/keygate-io/keygate/internal/pkg/database"
	"github.com/keygate-io/keygate/internal/pkg/env"
)

// HandleBillingWebhook receives billing provider events. The contract with
// the provider: 401 for bad signatures, 200 for everything we accepted
// (including duplicates and events we could not fully apply, which are
// reported in the body so the provider does not retry forever), 500 only
// when persistence itself failed.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	eventID := strings.TrimSpace(c.Get("X-Webhook-Id"))
	signature := strings.TrimSpace(c.Get("X-Webhook-Signature"))
	timestamp := strings.TrimSpace(c.Get("X-Webhook-Timestamp"))
	secret := env.GetEnv("BILLING_WEBHOOK_SECRET", "")

	if !billing.VerifyWebhookSignature(rawBody, signature, timestamp, eventID, secret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": billing.ErrUnauthorized.Error()})
	}

	ev, parseErr := billing.ParseEvent(rawBody)
	eventType := ""
	if ev != nil {
		eventType = ev.Type
	}

	processor := billing.NewProcessorFromDB(database.GetDB())
	created, stored, err := processor.RecordEvent(billing.WebhookEventInput{
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		log.Printf("webhook persist failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(billing.ProcessingResult{
			Received:  true,
			EventType: eventType,
			Duplicate: true,
			Message:   "duplicate event ignored",
		})
	}

	if parseErr != nil {
		_ = processor.MarkProcessed(stored.ID, parseErr)
		return c.Status(fiber.StatusOK).JSON(billing.ProcessingResult{
			Received:  true,
			EventType: eventType,
			Message:   "payload could not be parsed",
		})
	}

	result := processor.Process(ev)
	_ = processor.MarkProcessed(stored.ID, result.Err)
	if result.Err != nil {
		log.Printf("webhook %s (%s) not applied: %v", eventID, ev.Type, result.Err)
	}

	return c.Status(fiber.StatusOK).JSON(billing.ProcessingResult{
		Received:  true,
		EventType: ev.Type,
		Handled:   result.Handled,
		Message:   result.Message,
	})
}
