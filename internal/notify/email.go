package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fulfillment-engine/internal/logger"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type emailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailNotifier mails the operations inbox about events that need a human:
// manual review, stock shortfalls and pending refunds.
type EmailNotifier struct {
	client    emailSender
	fromEmail string
	fromName  string
	opsEmail  string
}

func NewEmailNotifier(apiKey, fromEmail, fromName, opsEmail string) *EmailNotifier {
	return &EmailNotifier{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
		opsEmail:  opsEmail,
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, subjectID string, kind EventKind, payload map[string]string) error {
	if !OpsKinds[kind] {
		return nil
	}

	subject := fmt.Sprintf("[fulfillment] %s %s", kind, payload["transaction_id"])
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var body strings.Builder
	fmt.Fprintf(&body, "subject: %s\n", subjectID)
	for _, k := range keys {
		fmt.Fprintf(&body, "%s: %s\n", k, payload[k])
	}

	from := mail.NewEmail(n.fromName, n.fromEmail)
	to := mail.NewEmail("Operations", n.opsEmail)
	message := mail.NewSingleEmail(from, subject, to, body.String(), "")

	logger.ExternalServiceCall("sendgrid", "send", "kind", kind)
	response, err := n.client.SendWithContext(ctx, message)
	if err == nil && response.StatusCode >= 400 {
		err = fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}
	logger.ExternalServiceResult("sendgrid", "send", err)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
