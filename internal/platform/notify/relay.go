package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taketaketaketake/bol-sub000/internal/services"
)

const defaultRelayTimeout = 10 * time.Second

// ErrEndpointNotConfigured is returned when a channel has no relay endpoint.
var ErrEndpointNotConfigured = errors.New("notify: relay endpoint not configured")

// RelayClient delivers transactional email and SMS through the notification
// relay service. The relay owns templating and provider fan-out; the API only
// submits the template name and its data.
type RelayClient struct {
	emailEndpoint string
	smsEndpoint   string
	authToken     string
	httpClient    *http.Client
}

// RelayOption customises RelayClient behaviour.
type RelayOption func(*RelayClient)

// WithHTTPClient overrides the HTTP client used for relay calls.
func WithHTTPClient(client *http.Client) RelayOption {
	return func(c *RelayClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewRelayClient constructs a relay client. Endpoints may be empty; sends to an
// unconfigured channel fail with ErrEndpointNotConfigured so the caller can
// record the attempt without retrying.
func NewRelayClient(emailEndpoint, smsEndpoint, authToken string, opts ...RelayOption) *RelayClient {
	c := &RelayClient{
		emailEndpoint: strings.TrimSpace(emailEndpoint),
		smsEndpoint:   strings.TrimSpace(smsEndpoint),
		authToken:     strings.TrimSpace(authToken),
		httpClient:    &http.Client{Timeout: defaultRelayTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type relayPayload struct {
	To       string         `json:"to"`
	Template string         `json:"template"`
	Ref      string         `json:"ref,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// SendEmail submits one templated email to the relay. The ref is echoed back
// on the relay's delivery receipt callback.
func (c *RelayClient) SendEmail(ctx context.Context, msg services.EmailMessage) error {
	return c.post(ctx, c.emailEndpoint, relayPayload{To: msg.To, Template: msg.Template, Ref: msg.Ref, Data: msg.Data})
}

// SendSMS submits one templated SMS to the relay.
func (c *RelayClient) SendSMS(ctx context.Context, msg services.SMSMessage) error {
	return c.post(ctx, c.smsEndpoint, relayPayload{To: msg.To, Template: msg.Template, Ref: msg.Ref, Data: msg.Data})
}

func (c *RelayClient) post(ctx context.Context, endpoint string, payload relayPayload) error {
	if endpoint == "" {
		return ErrEndpointNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: relay call failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: relay returned status %d", resp.StatusCode)
	}
	return nil
}

var (
	_ services.EmailSender = (*RelayClient)(nil)
	_ services.SMSSender   = (*RelayClient)(nil)
)
