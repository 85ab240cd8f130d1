package billing

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keygate-io/keygate/app/models"
)

// memRepository is an in-memory Repository used by processor tests. It
// mirrors the unique-index semantics of the GORM implementation.
type memRepository struct {
	mu            sync.Mutex
	nextID        uint
	users         map[string]*models.User          // by email
	subscriptions map[string]*models.Subscription  // by provider subscription id
	licenses      map[uint]*models.License         // by id
	payments      []*models.Payment
	events        map[string]*models.WebhookEvent // by provider event id
}

func newMemRepository() *memRepository {
	return &memRepository{
		users:         make(map[string]*models.User),
		subscriptions: make(map[string]*models.Subscription),
		licenses:      make(map[uint]*models.License),
		events:        make(map[string]*models.WebhookEvent),
	}
}

func (m *memRepository) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memRepository) GetOrCreateUserByEmail(email, name string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[email]; ok {
		if name != "" {
			u.Name = name
		}
		return u, nil
	}
	u := &models.User{ID: m.id(), Email: email, Name: name, Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}
	m.users[email] = u
	return u, nil
}

func (m *memRepository) GetUserByID(id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepository) GetSubscriptionByProviderID(providerID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subscriptions[providerID]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

func (m *memRepository) CreateSubscriptionIfNotExists(sub *models.Subscription) (bool, *models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.subscriptions[sub.ProviderSubscriptionID]; ok {
		return false, existing, nil
	}
	sub.ID = m.id()
	m.subscriptions[sub.ProviderSubscriptionID] = sub
	return true, sub, nil
}

func (m *memRepository) SaveSubscription(sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.ProviderSubscriptionID] = sub
	return nil
}

func (m *memRepository) GetActiveLicenseForSubscription(subscriptionID uint) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.licenses {
		if l.SubscriptionID != nil && *l.SubscriptionID == subscriptionID && l.IsActive {
			return l, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepository) GetLicenseByKey(key string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.licenses {
		if l.LicenseKey == key {
			return l, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepository) CreateLicense(lic *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.licenses {
		if l.LicenseKey == lic.LicenseKey {
			return ErrConflict
		}
	}
	lic.ID = m.id()
	m.licenses[lic.ID] = lic
	return nil
}

func (m *memRepository) DeactivateLicense(licenseID uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.licenses[licenseID]; ok {
		l.IsActive = false
		l.DeactivatedAt = &at
	}
	return nil
}

func (m *memRepository) CreatePayment(p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	m.payments = append(m.payments, p)
	return nil
}

func (m *memRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.events[event.ProviderEventID]; ok {
		return false, existing, nil
	}
	event.ID = m.id()
	m.events[event.ProviderEventID] = event
	return true, event, nil
}

func (m *memRepository) MarkWebhookProcessed(id uint, processingError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, e := range m.events {
		if e.ID == id {
			e.ProcessedAt = &now
			e.ProcessingError = processingError
		}
	}
	return nil
}

// recordingMailer captures outbound notifications for assertions.
type recordingMailer struct {
	mu            sync.Mutex
	licenseMails  []string
	cancelMails   []string
	failureMails  []string
	lastKey       string
	returnedError error
}

func (r *recordingMailer) SendLicenseKey(to, licenseKey, tier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.licenseMails = append(r.licenseMails, to)
	r.lastKey = licenseKey
	return r.returnedError
}

func (r *recordingMailer) SendCancellation(to, tier, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelMails = append(r.cancelMails, to)
	return r.returnedError
}

func (r *recordingMailer) SendPaymentFailed(to, retryURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failureMails = append(r.failureMails, to)
	return r.returnedError
}

func createdEvent(id, subID, email, product string) *Event {
	return &Event{
		ID:   id,
		Type: EventSubscriptionCreated,
		Data: EventData{SubscriptionID: subID, ProductID: product, CustomerEmail: email, CustomerName: "Alice"},
	}
}

func simpleEvent(id, typ, subID string) *Event {
	return &Event{ID: id, Type: typ, Data: EventData{SubscriptionID: subID}}
}

func TestProcessSubscriptionCreated(t *testing.T) {
	repo := newMemRepository()
	p := NewProcessor(repo, &recordingMailer{})

	res := p.Process(createdEvent("evt_1", "sub_1", "alice@example.com", "pro"))
	if !res.Handled || res.Err != nil {
		t.Fatalf("expected created event to be handled, got %+v", res)
	}

	sub, err := repo.GetSubscriptionByProviderID("sub_1")
	if err != nil {
		t.Fatalf("subscription not stored: %v", err)
	}
	if sub.Status != models.SubscriptionStatusCreated {
		t.Fatalf("expected status created, got %q", sub.Status)
	}
	if sub.Tier != "pro" {
		t.Fatalf("expected tier pro, got %q", sub.Tier)
	}
	if _, ok := repo.users["alice@example.com"]; !ok {
		t.Fatalf("expected user to be provisioned")
	}
}

func TestProcessSubscriptionCreated_UnknownProduct(t *testing.T) {
	repo := newMemRepository()
	p := NewProcessor(repo, &recordingMailer{})

	res := p.Process(createdEvent("evt_1", "sub_1", "alice@example.com", "prod_unmapped"))
	if !res.Handled || res.Err != nil {
		t.Fatalf("expected unknown product to be non-fatal, got %+v", res)
	}
	sub, _ := repo.GetSubscriptionByProviderID("sub_1")
	if sub.Tier != "unknown" {
		t.Fatalf("expected unknown tier, got %q", sub.Tier)
	}
}

func TestProcessSubscriptionCreated_Idempotent(t *testing.T) {
	repo := newMemRepository()
	p := NewProcessor(repo, &recordingMailer{})

	ev := createdEvent("evt_1", "sub_1", "alice@example.com", "pro")
	p.Process(ev)
	res := p.Process(ev)
	if !res.Handled || res.Err != nil {
		t.Fatalf("expected redelivery to succeed, got %+v", res)
	}
	if len(repo.subscriptions) != 1 {
		t.Fatalf("expected a single subscription, got %d", len(repo.subscriptions))
	}
}

func TestProcessActivated_WithoutCreated(t *testing.T) {
	repo := newMemRepository()
	p := NewProcessor(repo, &recordingMailer{})

	res := p.Process(simpleEvent("evt_9", EventSubscriptionActivated, "sub_missing"))
	if res.Handled {
		t.Fatalf("expected activation without subscription to be reported as unhandled")
	}
	if !errors.Is(res.Err, ErrNotFound) {
		t.Fatalf("expected NotFound error, got %v", res.Err)
	}
}

func TestProcessActivated_Idempotent(t *testing.T) {
	repo := newMemRepository()
	mailer := &recordingMailer{}
	p := NewProcessor(repo, mailer)

	p.Process(createdEvent("evt_1", "sub_1", "alice@example.com", "pro"))
	p.Process(simpleEvent("evt_2", EventSubscriptionActivated, "sub_1"))
	firstKey := mailer.lastKey
	p.Process(simpleEvent("evt_2b", EventSubscriptionActivated, "sub_1"))

	if len(repo.licenses) != 1 {
		t.Fatalf("expected a single license after duplicate activation, got %d", len(repo.licenses))
	}
	if mailer.lastKey != firstKey {
		t.Fatalf("expected redelivered activation to resend the existing key")
	}
}

func TestProcessLifecycle(t *testing.T) {
	repo := newMemRepository()
	mailer := &recordingMailer{}
	p := NewProcessor(repo, mailer)

	if res := p.Process(createdEvent("evt_1", "sub_1", "alice@example.com", "pro")); !res.Handled {
		t.Fatalf("created failed: %+v", res)
	}
	sub, _ := repo.GetSubscriptionByProviderID("sub_1")
	if sub.Status != models.SubscriptionStatusCreated {
		t.Fatalf("expected created, got %q", sub.Status)
	}

	if res := p.Process(simpleEvent("evt_2", EventSubscriptionActivated, "sub_1")); !res.Handled {
		t.Fatalf("activation failed: %+v", res)
	}
	sub, _ = repo.GetSubscriptionByProviderID("sub_1")
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active, got %q", sub.Status)
	}
	lic, err := repo.GetActiveLicenseForSubscription(sub.ID)
	if err != nil {
		t.Fatalf("expected license after activation: %v", err)
	}
	if lic.Tier != "pro" {
		t.Fatalf("license tier %q does not match subscription tier pro", lic.Tier)
	}
	if len(mailer.licenseMails) != 1 || mailer.licenseMails[0] != "alice@example.com" {
		t.Fatalf("expected license mail to alice, got %v", mailer.licenseMails)
	}

	cancel := simpleEvent("evt_3", EventSubscriptionCancelled, "sub_1")
	cancel.Data.Reason = "too expensive"
	if res := p.Process(cancel); !res.Handled {
		t.Fatalf("cancellation failed: %+v", res)
	}
	sub, _ = repo.GetSubscriptionByProviderID("sub_1")
	if sub.Status != models.SubscriptionStatusCancelled {
		t.Fatalf("expected cancelled, got %q", sub.Status)
	}
	if sub.CancelReason != "too expensive" {
		t.Fatalf("expected cancel reason to be stored, got %q", sub.CancelReason)
	}
	stored, err := repo.GetLicenseByKey(lic.LicenseKey)
	if err != nil {
		t.Fatalf("license disappeared after cancellation: %v", err)
	}
	if stored.IsActive {
		t.Fatalf("expected license to be deactivated, not deleted")
	}
	if len(mailer.cancelMails) != 1 {
		t.Fatalf("expected cancellation mail, got %v", mailer.cancelMails)
	}
}

func TestProcessCancelled_RedeliveryDoesNotRemail(t *testing.T) {
	repo := newMemRepository()
	mailer := &recordingMailer{}
	p := NewProcessor(repo, mailer)

	p.Process(createdEvent("evt_1", "sub_1", "alice@example.com", "pro"))
	p.Process(simpleEvent("evt_2", EventSubscriptionActivated, "sub_1"))
	p.Process(simpleEvent("evt_3", EventSubscriptionCancelled, "sub_1"))

	res := p.Process(simpleEvent("evt_3b", EventSubscriptionCancelled, "sub_1"))
	if !res.Handled || res.Err != nil {
		t.Fatalf("expected redelivered cancellation to be acknowledged, got %+v", res)
	}
	if len(mailer.cancelMails) != 1 {
		t.Fatalf("expected a single cancellation mail after redelivery, got %d", len(mailer.cancelMails))
	}
	sub, _ := repo.GetSubscriptionByProviderID("sub_1")
	if sub.Status != models.SubscriptionStatusCancelled {
		t.Fatalf("expected subscription to stay cancelled, got %q", sub.Status)
	}
}

func TestProcessActivated_PlanChangeSwapsLicense(t *testing.T) {
	repo := newMemRepository()
	mailer := &recordingMailer{}
	p := NewProcessor(repo, mailer)

	p.Process(createdEvent("evt_1", "sub_1", "alice@example.com", "pro"))
	p.Process(simpleEvent("evt_2", EventSubscriptionActivated, "sub_1"))
	sub, _ := repo.GetSubscriptionByProviderID("sub_1")
	oldLic, err := repo.GetActiveLicenseForSubscription(sub.ID)
	if err != nil {
		t.Fatalf("expected license after first activation: %v", err)
	}

	upgrade := simpleEvent("evt_3", EventSubscriptionActivated, "sub_1")
	upgrade.Data.ProductID = "enterprise"
	if res := p.Process(upgrade); !res.Handled || res.Err != nil {
		t.Fatalf("plan-change activation failed: %+v", res)
	}

	sub, _ = repo.GetSubscriptionByProviderID("sub_1")
	if sub.Tier != "enterprise" {
		t.Fatalf("expected subscription tier enterprise after plan change, got %q", sub.Tier)
	}
	if sub.ProviderProductID != "enterprise" {
		t.Fatalf("expected product id to follow the plan change, got %q", sub.ProviderProductID)
	}

	retired, _ := repo.GetLicenseByKey(oldLic.LicenseKey)
	if retired.IsActive {
		t.Fatalf("expected the old license to be retired on plan change")
	}
	fresh, err := repo.GetActiveLicenseForSubscription(sub.ID)
	if err != nil {
		t.Fatalf("expected a fresh license after plan change: %v", err)
	}
	if fresh.Tier != "enterprise" {
		t.Fatalf("expected new license at tier enterprise, got %q", fresh.Tier)
	}
	if fresh.LicenseKey == oldLic.LicenseKey {
		t.Fatalf("expected a new key to be minted on plan change")
	}
	if len(mailer.licenseMails) != 2 {
		t.Fatalf("expected the new key to be mailed, got %d license mails", len(mailer.licenseMails))
	}
}

func TestProcessPaymentFailed(t *testing.T) {
	repo := newMemRepository()
	mailer := &recordingMailer{}
	p := NewProcessor(repo, mailer)

	p.Process(createdEvent("evt_1", "sub_1", "alice@example.com", "pro"))
	p.Process(simpleEvent("evt_2", EventSubscriptionActivated, "sub_1"))

	fail := simpleEvent("evt_3", EventPaymentFailed, "sub_1")
	fail.Data.Reason = "card declined"
	if res := p.Process(fail); !res.Handled {
		t.Fatalf("payment.failed not handled: %+v", res)
	}

	if len(repo.payments) != 1 {
		t.Fatalf("expected one payment row, got %d", len(repo.payments))
	}
	if repo.payments[0].Status != models.PaymentStatusFailed {
		t.Fatalf("expected failed payment row, got %q", repo.payments[0].Status)
	}
	sub, _ := repo.GetSubscriptionByProviderID("sub_1")
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("payment.failed must not change subscription status, got %q", sub.Status)
	}
	if len(mailer.failureMails) != 1 {
		t.Fatalf("expected payment-failed mail, got %v", mailer.failureMails)
	}
}

func TestProcessPaymentSucceeded_RecoversPastDue(t *testing.T) {
	repo := newMemRepository()
	p := NewProcessor(repo, &recordingMailer{})

	p.Process(createdEvent("evt_1", "sub_1", "alice@example.com", "pro"))
	sub, _ := repo.GetSubscriptionByProviderID("sub_1")
	sub.Status = models.SubscriptionStatusPastDue
	_ = repo.SaveSubscription(sub)

	ok := simpleEvent("evt_2", EventPaymentSucceeded, "sub_1")
	ok.Data.AmountCents = 900
	if res := p.Process(ok); !res.Handled {
		t.Fatalf("payment.succeeded not handled: %+v", res)
	}

	sub, _ = repo.GetSubscriptionByProviderID("sub_1")
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected past_due subscription to recover to active, got %q", sub.Status)
	}
	if sub.LastPaymentAt == nil {
		t.Fatalf("expected last payment timestamp to be set")
	}
	if len(repo.payments) != 1 || repo.payments[0].Status != models.PaymentStatusSucceeded {
		t.Fatalf("expected succeeded payment row, got %+v", repo.payments)
	}
}

func TestProcessUnknownEventType(t *testing.T) {
	repo := newMemRepository()
	p := NewProcessor(repo, &recordingMailer{})

	res := p.Process(&Event{ID: "evt_1", Type: "invoice.finalized"})
	if res.Handled {
		t.Fatalf("unknown event types must be reported as unhandled")
	}
	if res.Err != nil {
		t.Fatalf("unknown event types are not errors, got %v", res.Err)
	}
}

func TestRecordEventDeduplicates(t *testing.T) {
	repo := newMemRepository()
	p := NewProcessor(repo, &recordingMailer{})

	in := WebhookEventInput{ProviderEventID: "evt_1", EventType: EventSubscriptionCreated, PayloadJSON: "{}", SignatureValid: true}
	created, first, err := p.RecordEvent(in)
	if err != nil || !created {
		t.Fatalf("expected first record to create, got created=%v err=%v", created, err)
	}
	created, second, err := p.RecordEvent(in)
	if err != nil {
		t.Fatalf("unexpected error on duplicate record: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate event id to be deduplicated")
	}
	if first.ID != second.ID {
		t.Fatalf("expected the stored event to be returned on redelivery")
	}
}

func TestRecordEvent_HashFallbackID(t *testing.T) {
	repo := newMemRepository()
	p := NewProcessor(repo, &recordingMailer{})

	_, stored, err := p.RecordEvent(WebhookEventInput{EventType: "x", PayloadJSON: `{"a":1}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.ProviderEventID == "" {
		t.Fatalf("expected hash fallback id for events without provider id")
	}
	if !strings.HasPrefix(stored.ProviderEventID, "hash:") {
		t.Fatalf("unexpected fallback id %q", stored.ProviderEventID)
	}
}
