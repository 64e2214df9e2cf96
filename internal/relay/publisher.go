package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody bounds how much of a failed relay response is read into the error.
const maxErrorBody = 512

// pushRequest is the body of the relay's internal send endpoint.
type pushRequest struct {
	Token string `json:"token"`
	Event Event  `json:"event"`
}

// HTTPPublisher pushes events to an external relay over HTTP.
type HTTPPublisher struct {
	url    string
	client *http.Client
}

// NewHTTPPublisher creates a publisher posting to sendURL. timeout bounds
// each push.
func NewHTTPPublisher(sendURL string, timeout time.Duration) *HTTPPublisher {
	return &HTTPPublisher{
		url:    sendURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Publish posts {token, event} to the relay. Any non-2xx status is an error.
func (p *HTTPPublisher) Publish(ctx context.Context, token string, ev Event) error {
	body, err := json.Marshal(pushRequest{Token: token, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send to relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("relay responded %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
