// internal/ports/sns_test.go
package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"

	"sprint-assistant/internal/common/aws"
	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/logger"
)

type fakeSNS struct {
	published []sns.PublishInput
	err       error
}

func (f *fakeSNS) Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, *input)
	return &sns.PublishOutput{MessageId: awssdk.String("msg-1")}, nil
}

func TestSNSNotifierPublishesEventJSON(t *testing.T) {
	fake := &fakeSNS{}
	cfg := config.NotificationConfig{Mode: "sns"}
	cfg.AWS.TopicARN = "arn:aws:sns:us-east-1:123:assistant-events"

	notifier := NewSNSNotifier(aws.NewSNSClientFromAPI(fake), nil, cfg, logger.NewTestLogger(t))

	err := notifier.Notify(context.Background(), Event{
		ID:       "evt-1",
		TenantID: "acme",
		Kind:     "status_change",
		Subject:  "Task completed",
		Message:  "Login task is done",
	})
	require.NoError(t, err)
	require.Len(t, fake.published, 1)

	assert.Equal(t, cfg.AWS.TopicARN, *fake.published[0].TopicArn)

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(*fake.published[0].Message), &decoded))
	assert.Equal(t, "acme", decoded.TenantID)
	assert.Equal(t, "status_change", decoded.Kind)
}

func TestSNSNotifierWrapsPublishFailure(t *testing.T) {
	fake := &fakeSNS{err: fmt.Errorf("topic gone")}
	cfg := config.NotificationConfig{Mode: "sns"}
	cfg.AWS.TopicARN = "arn:aws:sns:us-east-1:123:assistant-events"

	notifier := NewSNSNotifier(aws.NewSNSClientFromAPI(fake), nil, cfg, logger.NewTestLogger(t))

	err := notifier.Notify(context.Background(), Event{ID: "evt-1", TenantID: "acme"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotificationFailed, errors.From(err).Code)
}
