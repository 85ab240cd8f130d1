package notify

import (
	"fmt"
	"log"
	"time"

	"github.com/keygate-io/keygate/internal/pkg/env"
	"github.com/keygate-io/keygate/internal/pkg/mail"
)

// Mailer is the outbound notification surface of the entitlement flow.
// Implementations must treat delivery as best-effort: a failed send never
// rolls back the state transition that triggered it.
type Mailer interface {
	SendLicenseKey(to string, licenseKey string, tier string) error
	SendCancellation(to string, tier string, reason string) error
	SendPaymentFailed(to string, retryURL string) error
}

const sendTimeout = 10 * time.Second

// SMTPMailer delivers notifications through the env-configured SMTP relay.
type SMTPMailer struct{}

func NewSMTPMailer() *SMTPMailer {
	return &SMTPMailer{}
}

func (m *SMTPMailer) SendLicenseKey(to string, licenseKey string, tier string) error {
	subject := "Your license key"
	body := fmt.Sprintf(
		"<p>Thanks for subscribing to the <strong>%s</strong> plan.</p>"+
			"<p>Your license key:</p><pre>%s</pre>"+
			"<p>Add it to your client configuration to start making calls.</p>",
		tier, licenseKey,
	)
	return sendBounded(to, subject, body)
}

func (m *SMTPMailer) SendCancellation(to string, tier string, reason string) error {
	subject := "Your subscription has ended"
	body := fmt.Sprintf(
		"<p>Your <strong>%s</strong> subscription has ended (%s).</p>"+
			"<p>Your license key has been deactivated. You can resubscribe at any time.</p>",
		tier, reason,
	)
	return sendBounded(to, subject, body)
}

func (m *SMTPMailer) SendPaymentFailed(to string, retryURL string) error {
	subject := "Payment failed"
	body := fmt.Sprintf(
		"<p>We could not process your latest payment.</p>"+
			"<p><a href=\"%s\">Update your payment method</a> to keep your license active.</p>",
		retryURL,
	)
	return sendBounded(to, subject, body)
}

// sendBounded runs the SMTP send in a goroutine so a slow relay cannot stall
// webhook processing past the timeout. The caller still gets the result when
// the relay answers in time.
func sendBounded(to, subject, body string) error {
	done := make(chan error, 1)
	go func() {
		done <- mail.SendMail(to, subject, body)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(sendTimeout):
		log.Printf("mail send to %s timed out after %v, continuing in background", to, sendTimeout)
		return nil
	}
}

// RetryURL builds the payment-retry link embedded in failure notices.
func RetryURL() string {
	base := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000")
	return base + "/billing/retry"
}
