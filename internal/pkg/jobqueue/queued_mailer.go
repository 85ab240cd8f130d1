package jobqueue

import (
	"github.com/keygate-io/keygate/internal/pkg/notify"
)

// QueuedMailer implements notify.Mailer by enqueueing send_email jobs, so
// webhook processing never waits on the SMTP relay and failed sends are
// retried by the queue.
type QueuedMailer struct {
	manager *Manager
}

var _ notify.Mailer = (*QueuedMailer)(nil)

// NewQueuedMailer returns a mailer backed by the global job queue.
func NewQueuedMailer() *QueuedMailer {
	return &QueuedMailer{manager: GetManager()}
}

func (m *QueuedMailer) SendLicenseKey(to string, licenseKey string, tier string) error {
	return m.enqueue(EmailJobPayload{
		Kind:       EmailKindLicenseKey,
		To:         to,
		LicenseKey: licenseKey,
		Tier:       tier,
	})
}

func (m *QueuedMailer) SendCancellation(to string, tier string, reason string) error {
	return m.enqueue(EmailJobPayload{
		Kind:   EmailKindCancellation,
		To:     to,
		Tier:   tier,
		Reason: reason,
	})
}

func (m *QueuedMailer) SendPaymentFailed(to string, retryURL string) error {
	return m.enqueue(EmailJobPayload{
		Kind:     EmailKindPaymentFailed,
		To:       to,
		RetryURL: retryURL,
	})
}

func (m *QueuedMailer) enqueue(payload EmailJobPayload) error {
	_, err := m.manager.GetQueue().EnqueueJob(JobTypeSendEmail, payload.ToMap())
	return err
}
