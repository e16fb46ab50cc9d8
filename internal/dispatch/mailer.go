package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Mailer delivers one notification email. Failures carry enough detail to
// log but never escape the dispatcher boundary as a panic.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, htmlBody string) error
}

// RelayMailer posts the message as JSON to a mail relay endpoint, with a
// bearer key when configured.
type RelayMailer struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewRelayMailer(endpoint, key string) *RelayMailer {
	return &RelayMailer{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (m *RelayMailer) Send(ctx context.Context, recipient, subject, htmlBody string) error {
	payload := map[string]string{"to": recipient, "subject": subject, "html": htmlBody}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.Key != "" {
		req.Header.Set("Authorization", "Bearer "+m.Key)
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail relay status %d for %s", resp.StatusCode, recipient)
	}
	return nil
}
