// internal/alert/notifier.go
package alert

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/EntryDSM/Casper-Application-sub008/internal/common/aws"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/config"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"
)

// Notifier delivers operator alerts for sagas parked in FAILED. Compensation
// failures are never silently retried forever, so someone has to hear about
// them.
type Notifier struct {
	cfg    config.AlertConfig
	sns    *aws.SNSClient
	ses    *aws.SESClient
	logger logger.Logger
}

func NewNotifier(ctx context.Context, cfg config.AlertConfig, log logger.Logger) (*Notifier, error) {
	n := &Notifier{cfg: cfg, logger: log}

	if !cfg.Enabled {
		return n, nil
	}

	if cfg.SNS.Enabled {
		client, err := aws.NewSNSClient(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, err
		}
		n.sns = client
	}

	if cfg.Email.Enabled {
		client, err := aws.NewSESClient(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, err
		}
		n.ses = client
	}

	return n, nil
}

// Notify sends the alert over every configured channel. Channel failures are
// logged and do not mask each other.
func (n *Notifier) Notify(ctx context.Context, subject, body string) error {
	if !n.cfg.Enabled {
		return nil
	}

	var lastErr error

	if n.sns != nil {
		_, err := n.sns.Publish(ctx, &sns.PublishInput{
			TopicArn: awssdk.String(n.cfg.SNS.TopicARN),
			Subject:  awssdk.String(subject),
			Message:  awssdk.String(body),
		})
		if err != nil {
			n.logger.Error("SNS alert failed", map[string]interface{}{"error": err.Error()})
			lastErr = err
		}
	}

	if n.ses != nil {
		_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
			Source: awssdk.String(n.cfg.Email.FromEmail),
			Destination: &sestypes.Destination{
				ToAddresses: []string{n.cfg.Email.ToEmail},
			},
			Message: &sestypes.Message{
				Subject: &sestypes.Content{Data: awssdk.String(subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: awssdk.String(body)},
				},
			},
		})
		if err != nil {
			n.logger.Error("SES alert failed", map[string]interface{}{"error": err.Error()})
			lastErr = err
		}
	}

	return lastErr
}
