// internal/ports/sns.go
package ports

import (
	"context"
	"fmt"

	"sprint-assistant/internal/common/aws"
	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/logger"
)

// SNSNotifier publishes action events to an SNS topic. Assignment events
// optionally also go out as SES email when the email channel is enabled.
type SNSNotifier struct {
	sns      *aws.SNSClient
	ses      *aws.SESClient
	topicARN string
	email    bool
	from     string
	logger   logger.Logger
}

func NewSNSNotifier(sns *aws.SNSClient, ses *aws.SESClient, cfg config.NotificationConfig, log logger.Logger) *SNSNotifier {
	return &SNSNotifier{
		sns:      sns,
		ses:      ses,
		topicARN: cfg.AWS.TopicARN,
		email:    cfg.Email.Enabled && ses != nil,
		from:     cfg.Email.FromEmail,
		logger:   log.WithFields(map[string]interface{}{"component": "sns-notifier"}),
	}
}

var _ Notifier = (*SNSNotifier)(nil)

func (n *SNSNotifier) Notify(ctx context.Context, event Event) error {
	messageID, err := n.sns.PublishEvent(ctx, n.topicARN, event.Subject, event)
	if err != nil {
		return errors.NewNotificationFailedError("sns", err)
	}

	n.logger.Debug("published event", map[string]interface{}{
		"eventId":   event.ID,
		"messageId": messageID,
		"kind":      event.Kind,
	})

	// Assignment events carry the assignee address in metadata; email is a
	// courtesy channel, its failure does not fail the step.
	if n.email && event.Kind == "assignment" {
		if to, ok := event.Metadata["assignee_email"].(string); ok && to != "" {
			subject := fmt.Sprintf("[%s] %s", event.EntityType, event.Subject)
			if emailErr := n.ses.SendPlainEmail(ctx, n.from, to, subject, event.Message); emailErr != nil {
				n.logger.Warn("assignment email failed", map[string]interface{}{
					"eventId": event.ID,
					"error":   emailErr.Error(),
				})
			}
		}
	}

	return nil
}
