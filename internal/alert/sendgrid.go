// Package alert e-mails provider degradation and recovery through SendGrid.
package alert

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository/models"
	"go.uber.org/zap"
)

const sendEndpoint = "/v3/mail/send"

var ErrMissingConfig = errors.New("alert: incomplete sendgrid configuration")

type Config struct {
	APIKey      string
	FromName    string
	FromAddress string
	To          []string
	// Host overrides the SendGrid API host, empty means the public API.
	Host string
}

type SendGridNotifier struct {
	config Config
	logger *zap.Logger
}

func NewSendGridNotifier(config Config, logger *zap.Logger) (*SendGridNotifier, error) {
	if config.APIKey == "" || config.FromAddress == "" || len(config.To) == 0 {
		return nil, ErrMissingConfig
	}

	return &SendGridNotifier{config: config, logger: logging.OrNop(logger)}, nil
}

// Notify e-mails degraded and recovered events and ignores the rest.
func (n *SendGridNotifier) Notify(ctx context.Context, event models.HealthEvent) error {
	if event.EventType != models.EventDegraded && event.EventType != models.EventRecovered {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, body := render(event)

	email := mail.NewV3Mail()
	email.SetFrom(mail.NewEmail(n.config.FromName, n.config.FromAddress))
	email.Subject = subject

	p := mail.NewPersonalization()
	for _, to := range n.config.To {
		p.AddTos(mail.NewEmail("", to))
	}
	email.AddPersonalizations(p)
	email.AddContent(
		mail.NewContent("text/plain", body),
		mail.NewContent("text/html", "<pre>"+html.EscapeString(body)+"</pre>"),
	)

	request := sendgrid.GetRequest(n.config.APIKey, sendEndpoint, n.config.Host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(email)

	response, err := sendgrid.MakeRequest(request)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	n.logger.Info("health alert sent",
		zap.String("provider", event.ProviderName),
		zap.String("event_type", string(event.EventType)),
		zap.Int("recipients", len(n.config.To)),
		zap.Int("status", response.StatusCode))

	return nil
}

func render(event models.HealthEvent) (subject, body string) {
	state := "degraded"
	if event.EventType == models.EventRecovered {
		state = "recovered"
	}
	subject = fmt.Sprintf("[data provider %s] %s", state, event.ProviderName)

	var b strings.Builder
	fmt.Fprintf(&b, "Provider:     %s\n", event.ProviderName)
	fmt.Fprintf(&b, "Event:        %s\n", event.EventType)
	fmt.Fprintf(&b, "Health score: %.1f\n", event.HealthScore)
	fmt.Fprintf(&b, "Time:         %s\n", event.Timestamp.Format(time.RFC3339))
	if event.Message != "" {
		fmt.Fprintf(&b, "Details:      %s\n", event.Message)
	}

	return subject, b.String()
}
