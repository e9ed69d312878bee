package notify

import (
	"context"
	"fmt"
	"strings"

	"fulfillment-engine/internal/logger"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushNotifier publishes to the FCM topic of the subject, which the mobile
// apps subscribe to after login.
type PushNotifier struct {
	client messageSender
}

// NewPushNotifier builds an FCM client from a service account file.
func NewPushNotifier(ctx context.Context, credentialsFile, projectID string) (*PushNotifier, error) {
	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, cfg, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize messaging client: %w", err)
	}
	return &PushNotifier{client: client}, nil
}

func SubjectTopic(subjectID string) string {
	return "subject-" + subjectID
}

func (n *PushNotifier) Notify(ctx context.Context, subjectID string, kind EventKind, payload map[string]string) error {
	data := map[string]string{"kind": string(kind)}
	for k, v := range payload {
		data[k] = v
	}
	msg := &messaging.Message{
		Topic: SubjectTopic(subjectID),
		Data:  data,
		Notification: &messaging.Notification{
			Title: pushTitle(kind),
			Body:  pushBody(kind, payload),
		},
	}

	logger.ExternalServiceCall("fcm", "send", "topic", msg.Topic, "kind", kind)
	id, err := n.client.Send(ctx, msg)
	logger.ExternalServiceResult("fcm", "send", err, "message_id", id)
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	return nil
}

func pushTitle(kind EventKind) string {
	switch kind {
	case EventApproved:
		return "Booking confirmed"
	case EventUnderReview:
		return "Booking under review"
	case EventCancelled, EventOutOfStock:
		return "Booking cancelled"
	case EventRefunded:
		return "Refund processed"
	default:
		return "Booking update"
	}
}

func pushBody(kind EventKind, payload map[string]string) string {
	status := payload["display_status"]
	if status == "" {
		status = payload["status"]
	}
	if status == "" {
		return strings.ReplaceAll(string(kind), "_", " ")
	}
	return fmt.Sprintf("Your booking %s is now %s", payload["transaction_id"], status)
}
