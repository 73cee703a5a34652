// Package messaging wraps the Twilio API for outbound SMS delivery.
package messaging

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/cityping/cityping/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// phoneNumberRegex keeps leading + and digits when canonicalizing recipients.
var phoneNumberRegex = regexp.MustCompile(`[^\d+]`)

// Sender delivers one message body to a recipient.
type Sender interface {
	SendSMS(to string, body string) error
}

// Opts holds configuration options for the Twilio SMS client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	DryRun     bool
}

// Option defines a configuration option for the Twilio SMS client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sender phone number.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithDryRun makes the client log messages instead of sending them.
func WithDryRun(dry bool) Option {
	return func(o *Opts) { o.DryRun = dry }
}

// Client wraps the Twilio REST API for SMS.
type Client struct {
	client *twilio.RestClient
	from   string
	dryRun bool
}

// NewClient creates a Twilio SMS client. Credentials fall back to the
// TWILIO_ACCOUNT_SID / TWILIO_AUTH_TOKEN / TWILIO_FROM_NUMBER environment
// variables when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("messaging.NewClient: Twilio config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"dry_run", cfg.DryRun)

	// Dry-run mode never talks to Twilio, so credentials are optional there.
	if !cfg.DryRun {
		if cfg.AccountSID == "" || cfg.AuthToken == "" {
			return nil, fmt.Errorf("account SID and auth token must be provided")
		}
		if cfg.From == "" {
			return nil, fmt.Errorf("from number must be provided")
		}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{client: client, from: cfg.From, dryRun: cfg.DryRun}, nil
}

// ValidateAndCanonicalizeRecipient strips formatting from a phone number
// and validates that enough digits remain.
func ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	digits := 0
	for _, r := range canonical {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits == 0 {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if digits < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("messaging.ValidateAndCanonicalizeRecipient: recipient canonicalized", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendSMS delivers one message to one recipient. In dry-run mode the
// message is logged and not sent.
func (c *Client) SendSMS(to string, body string) error {
	if body == "" {
		return models.ErrEmptyMessage
	}
	canonicalTo, err := ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("messaging.Client.SendSMS: recipient validation failed", "error", err, "to", to)
		return err
	}

	if c.dryRun {
		slog.Info("messaging.Client.SendSMS: dry run, not sending", "to", canonicalTo, "chars", len(body))
		return nil
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(canonicalTo)
	params.SetFrom(c.from)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("messaging.Client.SendSMS: send failed", "error", err, "to", canonicalTo)
		return fmt.Errorf("failed to send SMS to %s: %w", canonicalTo, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Info("messaging.Client.SendSMS: message sent", "to", canonicalTo, "sid", sid)
	return nil
}

// Broadcast sends the body to every recipient, continuing past individual
// failures and returning the last error seen.
func Broadcast(sender Sender, recipients []string, body string) error {
	if len(recipients) == 0 {
		slog.Warn("messaging.Broadcast: no recipients configured")
		return models.ErrNoRecipients
	}
	var lastErr error
	for _, to := range recipients {
		if err := sender.SendSMS(to, body); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
