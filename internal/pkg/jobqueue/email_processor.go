package jobqueue

import (
	"fmt"

	"github.com/keygate-io/keygate/internal/pkg/notify"
)

// processSendEmailJob delivers one outbound notification through the SMTP
// mailer. Errors bubble up so the queue's retry logic applies.
func (q *Queue) processSendEmailJob(job *Job) error {
	payload, err := EmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid email payload: %w", err)
	}
	if payload.To == "" {
		return fmt.Errorf("email payload has no recipient")
	}

	mailer := notify.NewSMTPMailer()
	switch payload.Kind {
	case EmailKindLicenseKey:
		return mailer.SendLicenseKey(payload.To, payload.LicenseKey, payload.Tier)
	case EmailKindCancellation:
		return mailer.SendCancellation(payload.To, payload.Tier, payload.Reason)
	case EmailKindPaymentFailed:
		return mailer.SendPaymentFailed(payload.To, payload.RetryURL)
	default:
		return fmt.Errorf("unknown email kind: %s", payload.Kind)
	}
}
