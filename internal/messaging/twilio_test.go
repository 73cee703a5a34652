package messaging

import (
	"errors"
	"testing"

	"github.com/cityping/cityping/internal/models"
)

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain number", "+4512345678", "+4512345678", false},
		{"spaces and dashes", "+45 12 34-56 78", "+4512345678", false},
		{"parentheses", "(45) 12345678", "4512345678", false},
		{"empty", "", "", true},
		{"no digits", "abc", "", true},
		{"too short", "+45 12", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateAndCanonicalizeRecipient(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

// recordingSender captures broadcast deliveries.
type recordingSender struct {
	sent   []string
	failOn string
}

func (r *recordingSender) SendSMS(to, body string) error {
	if to == r.failOn {
		return errors.New("carrier rejected")
	}
	r.sent = append(r.sent, to)
	return nil
}

func TestBroadcast(t *testing.T) {
	sender := &recordingSender{}
	if err := Broadcast(sender, []string{"+4511111111", "+4522222222"}, "hej"); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Errorf("expected 2 deliveries, got %d", len(sender.sent))
	}
}

func TestBroadcastNoRecipients(t *testing.T) {
	if err := Broadcast(&recordingSender{}, nil, "hej"); !errors.Is(err, models.ErrNoRecipients) {
		t.Errorf("expected ErrNoRecipients, got %v", err)
	}
}

func TestBroadcastContinuesPastFailures(t *testing.T) {
	sender := &recordingSender{failOn: "+4511111111"}
	err := Broadcast(sender, []string{"+4511111111", "+4522222222"}, "hej")
	if err == nil {
		t.Fatal("expected error from failing recipient")
	}
	if len(sender.sent) != 1 || sender.sent[0] != "+4522222222" {
		t.Errorf("expected delivery to continue past failure, sent=%v", sender.sent)
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewClient(WithDryRun(true)); err != nil {
		t.Errorf("dry-run without credentials should work, got %v", err)
	}
}
