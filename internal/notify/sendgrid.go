package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-chat/internal/model"
	"github.com/sells-group/portfolio-chat/internal/resilience"
)

const defaultSendGridURL = "https://api.sendgrid.com"

// Option configures the SendGrid notifier.
type Option func(*SendGrid)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(s *SendGrid) {
		s.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *SendGrid) {
		s.http = hc
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *SendGrid) {
		s.retry = cfg
	}
}

// SendGrid sends notifications through the SendGrid v3 mail API.
type SendGrid struct {
	apiKey    string
	fromEmail string
	fromName  string
	baseURL   string
	http      *http.Client
	retry     resilience.RetryConfig
}

// NewSendGrid creates a SendGrid notifier.
func NewSendGrid(apiKey, fromEmail, fromName string, opts ...Option) *SendGrid {
	s := &SendGrid{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  fromName,
		baseURL:   defaultSendGridURL,
		http:      &http.Client{Timeout: 10 * time.Second},
		retry:     resilience.DefaultRetryConfig(),
	}
	s.retry.OnRetry = resilience.RetryLogger("sendgrid", "mail_send")
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	ReplyTo          *sgAddress          `json:"reply_to,omitempty"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

func (s *SendGrid) SendLeadNotification(ctx context.Context, to string, fields model.LeadFields, sourceName string) error {
	if to == "" {
		return eris.New("sendgrid: empty recipient")
	}
	subject, body := formatLeadEmail(fields, sourceName)
	mail := sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: to}}}},
		From:             sgAddress{Email: s.fromEmail, Name: s.fromName},
		Subject:          subject,
		Content:          []sgContent{{Type: "text/plain", Value: body}},
	}
	if fields.Email != "" {
		mail.ReplyTo = &sgAddress{Email: fields.Email, Name: fields.Name}
	}
	payload, err := json.Marshal(mail)
	if err != nil {
		return eris.Wrap(err, "sendgrid: marshal")
	}

	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "sendgrid: build request")
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.http.Do(req)
		if err != nil {
			return eris.Wrap(err, "sendgrid: send")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err = eris.Errorf("sendgrid: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	})
}

var _ Notifier = (*SendGrid)(nil)
