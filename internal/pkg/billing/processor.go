package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/keygate-io/keygate/app/models"
	"github.com/keygate-io/keygate/internal/pkg/entitlements"
	"github.com/keygate-io/keygate/internal/pkg/license"
	"github.com/keygate-io/keygate/internal/pkg/notify"
	"gorm.io/gorm"
)

// Processor drives subscription lifecycle transitions from verified webhook
// events. Each event type maps to one handler via a dispatch table; handler
// failures are captured in the HandlerResult so the transport layer can still
// acknowledge receipt.
type Processor struct {
	repo     Repository
	mailer   notify.Mailer
	handlers map[string]func(ev *Event) HandlerResult
}

// NewProcessor creates a processor from an injected repository and mailer.
func NewProcessor(repo Repository, mailer notify.Mailer) *Processor {
	p := &Processor{repo: repo, mailer: mailer}
	p.handlers = map[string]func(ev *Event) HandlerResult{
		EventSubscriptionCreated:   p.handleSubscriptionCreated,
		EventSubscriptionActivated: p.handleSubscriptionActivated,
		EventSubscriptionCancelled: func(ev *Event) HandlerResult { return p.handleSubscriptionEnded(ev, models.SubscriptionStatusCancelled) },
		EventSubscriptionExpired:   func(ev *Event) HandlerResult { return p.handleSubscriptionEnded(ev, models.SubscriptionStatusExpired) },
		EventPaymentSucceeded:      p.handlePaymentSucceeded,
		EventPaymentFailed:         p.handlePaymentFailed,
	}
	return p
}

var defaultMailer notify.Mailer = notify.NewSMTPMailer()

// SetDefaultMailer swaps the mailer used by NewProcessorFromDB. Called once
// at startup to route notifications through the job queue.
func SetDefaultMailer(m notify.Mailer) {
	if m != nil {
		defaultMailer = m
	}
}

// NewProcessorFromDB creates a processor wired to GORM and the default
// mailer.
func NewProcessorFromDB(db *gorm.DB) *Processor {
	return NewProcessor(NewRepository(db), defaultMailer)
}

// RecordEvent persists the webhook payload idempotently before processing.
// Events without a provider id get a payload-hash id so redelivered bodies
// still deduplicate.
func (p *Processor) RecordEvent(in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return p.repo.CreateWebhookEventIfNotExists(event)
}

// MarkProcessed records the processing outcome on the stored event.
func (p *Processor) MarkProcessed(eventID uint, processingErr error) error {
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return p.repo.MarkWebhookProcessed(eventID, errMsg)
}

// Process dispatches the event to its handler. Unknown event types are
// accepted and reported as unhandled.
func (p *Processor) Process(ev *Event) HandlerResult {
	handler, ok := p.handlers[ev.Type]
	if !ok {
		log.Printf("webhook event %s: unhandled event type %q", ev.ID, ev.Type)
		return HandlerResult{Handled: false, Message: fmt.Sprintf("unhandled event type %q", ev.Type)}
	}
	res := handler(ev)
	if res.Err != nil {
		log.Printf("webhook event %s (%s): %v", ev.ID, ev.Type, res.Err)
	}
	return res
}

func (p *Processor) handleSubscriptionCreated(ev *Event) HandlerResult {
	data := ev.Data
	if strings.TrimSpace(data.CustomerEmail) == "" {
		return failure("customer email missing from event payload", ErrNotFound)
	}
	if strings.TrimSpace(data.SubscriptionID) == "" {
		return failure("subscription id missing from event payload", ErrNotFound)
	}

	user, err := p.repo.GetOrCreateUserByEmail(strings.TrimSpace(data.CustomerEmail), strings.TrimSpace(data.CustomerName))
	if err != nil {
		return failure("user upsert failed", err)
	}

	tier := TierForProduct(data.ProductID)
	if tier == entitlements.TierUnknown {
		log.Printf("webhook event %s: unknown product id %q, subscription gets tier %q", ev.ID, data.ProductID, tier)
	}

	start, end := data.PeriodBounds()
	created, stored, err := p.repo.CreateSubscriptionIfNotExists(&models.Subscription{
		UserID:                 user.ID,
		ProviderSubscriptionID: strings.TrimSpace(data.SubscriptionID),
		ProviderProductID:      strings.TrimSpace(data.ProductID),
		Tier:                   string(tier),
		Status:                 models.SubscriptionStatusCreated,
		CurrentPeriodStart:     start,
		CurrentPeriodEnd:       end,
	})
	if err != nil {
		return failure("subscription create failed", err)
	}
	if !created {
		return HandlerResult{Handled: true, Message: fmt.Sprintf("subscription %s already exists", stored.ProviderSubscriptionID)}
	}
	return HandlerResult{Handled: true, Message: fmt.Sprintf("subscription %s created with tier %s", stored.ProviderSubscriptionID, stored.Tier)}
}

func (p *Processor) handleSubscriptionActivated(ev *Event) HandlerResult {
	sub, err := p.repo.GetSubscriptionByProviderID(strings.TrimSpace(ev.Data.SubscriptionID))
	if err != nil {
		return failure(fmt.Sprintf("subscription %s not found for activation", ev.Data.SubscriptionID), err)
	}
	user, err := p.repo.GetUserByID(sub.UserID)
	if err != nil {
		return failure(fmt.Sprintf("user %d not found for activation", sub.UserID), err)
	}

	// A re-activation can carry a plan change. Retire the old license so a
	// fresh one is minted at the event's tier.
	if productID := strings.TrimSpace(ev.Data.ProductID); productID != "" {
		if tier := TierForProduct(productID); tier != entitlements.TierUnknown && string(tier) != sub.Tier {
			direction := "upgraded"
			if entitlements.TierRank(tier) < entitlements.TierRank(entitlements.NormalizeTier(sub.Tier)) {
				direction = "downgraded"
			}
			log.Printf("webhook event %s: subscription %s %s from %s to %s", ev.ID, sub.ProviderSubscriptionID, direction, sub.Tier, tier)

			existing, err := p.repo.GetActiveLicenseForSubscription(sub.ID)
			switch {
			case err == nil:
				if err := p.repo.DeactivateLicense(existing.ID, ev.OccurredAt()); err != nil {
					return failure("license retire failed", err)
				}
			case !errors.Is(err, ErrNotFound):
				return failure("license lookup failed", err)
			}
			sub.Tier = string(tier)
			sub.ProviderProductID = productID
		}
	}

	// Idempotency: an already-active license for this subscription is
	// returned as-is, never duplicated.
	key := ""
	existing, err := p.repo.GetActiveLicenseForSubscription(sub.ID)
	switch {
	case err == nil:
		key = existing.LicenseKey
	case errors.Is(err, ErrNotFound):
		key = license.GenerateKey(sub.Tier, fmt.Sprintf("%d", user.ID), sub.ProviderSubscriptionID)
		subID := sub.ID
		// License tier must match the owning subscription's tier at
		// creation time.
		lic := &models.License{
			UserID:         user.ID,
			SubscriptionID: &subID,
			LicenseKey:     key,
			Tier:           sub.Tier,
			MaxServers:     entitlements.MaxServers(entitlements.NormalizeTier(sub.Tier)),
			IsActive:       true,
			ExpiresAt:      sub.CurrentPeriodEnd,
		}
		if err := p.repo.CreateLicense(lic); err != nil {
			return failure("license create failed", err)
		}
	default:
		return failure("license lookup failed", err)
	}

	sub.Status = models.SubscriptionStatusActive
	if err := p.repo.SaveSubscription(sub); err != nil {
		return failure("subscription activate failed", err)
	}

	if err := p.mailer.SendLicenseKey(user.Email, key, sub.Tier); err != nil {
		log.Printf("webhook event %s: license mail to %s failed: %v", ev.ID, user.Email, err)
	}
	return HandlerResult{Handled: true, Message: fmt.Sprintf("subscription %s activated, license issued", sub.ProviderSubscriptionID)}
}

func (p *Processor) handleSubscriptionEnded(ev *Event, status string) HandlerResult {
	sub, err := p.repo.GetSubscriptionByProviderID(strings.TrimSpace(ev.Data.SubscriptionID))
	if err != nil {
		return failure(fmt.Sprintf("subscription %s not found", ev.Data.SubscriptionID), err)
	}

	// Redelivered end events for a subscription that already stopped
	// entitling must not re-run deactivation or re-mail the customer.
	if sub.CancelledAt != nil && !sub.IsEntitling() {
		return HandlerResult{Handled: true, Message: fmt.Sprintf("subscription %s already %s", sub.ProviderSubscriptionID, sub.Status)}
	}

	occurred := ev.OccurredAt()
	sub.Status = status
	sub.CancelledAt = &occurred
	sub.CancelReason = strings.TrimSpace(ev.Data.Reason)
	if err := p.repo.SaveSubscription(sub); err != nil {
		return failure("subscription update failed", err)
	}

	lic, err := p.repo.GetActiveLicenseForSubscription(sub.ID)
	if err == nil {
		if err := p.repo.DeactivateLicense(lic.ID, occurred); err != nil {
			return failure("license deactivation failed", err)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return failure("license lookup failed", err)
	}

	if user, err := p.repo.GetUserByID(sub.UserID); err == nil {
		reason := sub.CancelReason
		if reason == "" {
			reason = status
		}
		if err := p.mailer.SendCancellation(user.Email, sub.Tier, reason); err != nil {
			log.Printf("webhook event %s: cancellation mail to %s failed: %v", ev.ID, user.Email, err)
		}
	}
	return HandlerResult{Handled: true, Message: fmt.Sprintf("subscription %s marked %s, license deactivated", sub.ProviderSubscriptionID, status)}
}

func (p *Processor) handlePaymentSucceeded(ev *Event) HandlerResult {
	sub, err := p.repo.GetSubscriptionByProviderID(strings.TrimSpace(ev.Data.SubscriptionID))
	if err != nil {
		return failure(fmt.Sprintf("subscription %s not found for payment", ev.Data.SubscriptionID), err)
	}

	occurred := ev.OccurredAt()
	if err := p.repo.CreatePayment(&models.Payment{
		UserID:            sub.UserID,
		SubscriptionID:    sub.ID,
		ProviderPaymentID: strings.TrimSpace(ev.Data.PaymentID),
		Status:            models.PaymentStatusSucceeded,
		AmountCents:       ev.Data.AmountCents,
		Currency:          normalizeCurrency(ev.Data.Currency),
		OccurredAt:        occurred,
	}); err != nil {
		return failure("payment record failed", err)
	}

	sub.LastPaymentAt = &occurred
	if sub.Status == models.SubscriptionStatusPastDue {
		sub.Status = models.SubscriptionStatusActive
	}
	if err := p.repo.SaveSubscription(sub); err != nil {
		return failure("subscription refresh failed", err)
	}
	return HandlerResult{Handled: true, Message: fmt.Sprintf("payment recorded for subscription %s", sub.ProviderSubscriptionID)}
}

func (p *Processor) handlePaymentFailed(ev *Event) HandlerResult {
	sub, err := p.repo.GetSubscriptionByProviderID(strings.TrimSpace(ev.Data.SubscriptionID))
	if err != nil {
		return failure(fmt.Sprintf("subscription %s not found for failed payment", ev.Data.SubscriptionID), err)
	}

	if err := p.repo.CreatePayment(&models.Payment{
		UserID:            sub.UserID,
		SubscriptionID:    sub.ID,
		ProviderPaymentID: strings.TrimSpace(ev.Data.PaymentID),
		Status:            models.PaymentStatusFailed,
		AmountCents:       ev.Data.AmountCents,
		Currency:          normalizeCurrency(ev.Data.Currency),
		FailureReason:     strings.TrimSpace(ev.Data.Reason),
		OccurredAt:        ev.OccurredAt(),
	}); err != nil {
		return failure("payment record failed", err)
	}

	// Status is not changed here; the provider signals past_due or expiry
	// through its own subscription events.
	if user, err := p.repo.GetUserByID(sub.UserID); err == nil {
		if err := p.mailer.SendPaymentFailed(user.Email, notify.RetryURL()); err != nil {
			log.Printf("webhook event %s: payment-failed mail to %s failed: %v", ev.ID, user.Email, err)
		}
	}
	return HandlerResult{Handled: true, Message: fmt.Sprintf("failed payment recorded for subscription %s", sub.ProviderSubscriptionID)}
}

func failure(message string, err error) HandlerResult {
	return HandlerResult{Handled: false, Message: message, Err: err}
}

func normalizeCurrency(currency string) string {
	c := strings.ToLower(strings.TrimSpace(currency))
	if c == "" {
		return "usd"
	}
	return c
}
