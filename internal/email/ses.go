// Package email delivers transactional mail (login codes) through SES.
package email

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/threadkit/threadkit/internal/logger"
)

type Mailer struct {
	client *ses.Client
	from   string
}

// NewMailer builds an SES-backed mailer. Credentials come from the
// standard AWS chain (env, shared config, instance role).
func NewMailer(ctx context.Context, region, from string) (*Mailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &Mailer{client: ses.NewFromConfig(cfg), from: from}, nil
}

// SendOTP mails a login code.
func (m *Mailer) SendOTP(ctx context.Context, destination, code string) error {
	subject := "Your sign-in code"
	textBody := fmt.Sprintf("Your sign-in code is %s. It expires in 10 minutes.\n\nIf you didn't request this, ignore this email.", code)
	htmlBody := fmt.Sprintf(`<p>Your sign-in code is <strong style="font-size:1.4em">%s</strong>.</p><p>It expires in 10 minutes. If you didn't request this, ignore this email.</p>`, code)

	_, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(m.from),
		Destination: &types.Destination{
			ToAddresses: []string{destination},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(textBody)},
				Html: &types.Content{Data: aws.String(htmlBody)},
			},
		},
	})
	if err != nil {
		return err
	}
	logger.Log.Info("otp email sent")
	return nil
}
