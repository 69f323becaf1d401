package notify

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"gatewatch/internal/config"
	"gatewatch/internal/domain/vehicle"
)

// Message is one composed notification bound for a single channel.
type Message struct {
	Subject    string
	Body       string
	Recipients []string
}

// Sender delivers a message over one channel. Errors are counted and logged
// by the dispatcher, never propagated further.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// EmailSender relays over plain SMTP (MailHog locally).
type EmailSender struct {
	cfg config.SMTPConfig
}

func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	return &EmailSender{cfg: cfg}
}

func (s *EmailSender) Send(_ context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return fmt.Errorf("email: no recipients")
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	data := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		s.cfg.From, strings.Join(msg.Recipients, ","), msg.Subject, msg.Body)
	if err := smtp.SendMail(addr, nil, s.cfg.From, msg.Recipients, []byte(data)); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

// SMSSender posts to a Twilio-compatible REST endpoint, one message per
// recipient number.
type SMSSender struct {
	cfg    config.SMSConfig
	client *http.Client
}

func NewSMSSender(cfg config.SMSConfig) *SMSSender {
	return &SMSSender{cfg: cfg, client: &http.Client{}}
}

func (s *SMSSender) Send(ctx context.Context, msg Message) error {
	if !s.cfg.Enabled || s.cfg.AccountSID == "" || s.cfg.AuthToken == "" {
		return fmt.Errorf("sms: not configured")
	}
	if len(msg.Recipients) == 0 {
		return fmt.Errorf("sms: no recipients")
	}

	endpoint := strings.TrimRight(s.cfg.Endpoint, "/")
	api := fmt.Sprintf("%s/Accounts/%s/Messages.json", endpoint, s.cfg.AccountSID)

	for _, to := range msg.Recipients {
		form := url.Values{}
		form.Set("From", s.cfg.From)
		form.Set("To", to)
		form.Set("Body", msg.Body)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, api, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("sms: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("sms to %s: %w", to, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("sms to %s: status %d", to, resp.StatusCode)
		}
	}
	return nil
}

// PushSender routes through shoutrrr service URLs. Rule recipients are
// treated as shoutrrr URLs; the configured defaults apply when a rule names
// none.
type PushSender struct {
	cfg config.PushConfig
}

func NewPushSender(cfg config.PushConfig) *PushSender {
	return &PushSender{cfg: cfg}
}

func (s *PushSender) Send(_ context.Context, msg Message) error {
	urls := msg.Recipients
	if len(urls) == 0 {
		urls = s.cfg.URLs
	}
	if len(urls) == 0 {
		return fmt.Errorf("push: no service urls")
	}

	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	sender.SetLogger(stdlog.New(io.Discard, "", 0))

	params := stypes.Params{}
	params.SetTitle(msg.Subject)
	for _, err := range sender.Send(msg.Body, &params) {
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}
	}
	return nil
}

// NewSenders builds the channel dispatch table from configuration.
func NewSenders(cfg config.NotifyConfig) map[vehicle.Channel]Sender {
	return map[vehicle.Channel]Sender{
		vehicle.ChannelEmail: NewEmailSender(cfg.SMTP),
		vehicle.ChannelSMS:   NewSMSSender(cfg.SMS),
		vehicle.ChannelPush:  NewPushSender(cfg.Push),
	}
}
