// Package notify delivers rendered reports to the patching distribution list.
package notify

import (
	"context"
	"fmt"

	"github.com/patchwatch/patchwatch/internal/core"
	"github.com/rs/zerolog"
)

// Message is one HTML email.
type Message struct {
	Subject string
	HTML    string
}

// Notifier sends a Message and returns a provider message id when one exists.
type Notifier interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// MailAPI is the SES surface SESNotifier needs. *aws.ClientFactory implements it.
type MailAPI interface {
	SendEmail(ctx context.Context, sess *core.Session, region, from string, to []string, subject, html string) (string, error)
}

// SESNotifier sends through SES with the shared-account session.
type SESNotifier struct {
	api    MailAPI
	sess   *core.Session
	region string
	from   string
	to     []string
	logger zerolog.Logger
}

// NewSESNotifier creates a notifier. An empty region falls back to the
// session's region.
func NewSESNotifier(api MailAPI, sess *core.Session, region, from string, to []string, logger zerolog.Logger) *SESNotifier {
	if region == "" {
		region = sess.Account.Region
	}
	return &SESNotifier{api: api, sess: sess, region: region, from: from, to: to, logger: logger}
}

func (n *SESNotifier) Send(ctx context.Context, msg Message) (string, error) {
	if len(n.to) == 0 {
		return "", fmt.Errorf("no recipients configured")
	}
	id, err := n.api.SendEmail(ctx, n.sess, n.region, n.from, n.to, msg.Subject, msg.HTML)
	if err != nil {
		return "", fmt.Errorf("sending %q: %w", msg.Subject, err)
	}
	n.logger.Info().
		Str("subject", msg.Subject).
		Strs("to", n.to).
		Str("message_id", id).
		Msg("email sent")
	return id, nil
}

// NopNotifier logs and drops messages. Used when email is disabled.
type NopNotifier struct {
	Logger zerolog.Logger
}

func (n NopNotifier) Send(_ context.Context, msg Message) (string, error) {
	n.Logger.Info().Str("subject", msg.Subject).Int("bytes", len(msg.HTML)).Msg("email disabled, not sending")
	return "", nil
}
