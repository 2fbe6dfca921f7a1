package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"webhook-notifier/metrics"
)

const (
	DefaultHeaderSignature = "X-Webhook-Signature"
	DefaultTimeout         = 5 * time.Second
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DeliveryError is a non-2xx response or a transport failure. Transport
// failures carry StatusCode 500.
type DeliveryError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("the remote server returned an error: (%d) %s", e.StatusCode, e.Message)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Sign returns the hex HMAC-SHA256 of body keyed by token.
func Sign(body []byte, token string) string {
	mac := hmac.New(sha256.New, []byte(token))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Dispatcher POSTs signed JSON bodies to webhook callbacks.
type Dispatcher struct {
	client  HTTPDoer
	header  string
	timeout time.Duration
}

func NewDispatcher(client HTTPDoer, header string, timeout time.Duration) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	if header == "" {
		header = DefaultHeaderSignature
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{client: client, header: header, timeout: timeout}
}

func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Deliver sends body to url. The response body is drained without limit
// and discarded.
func (d *Dispatcher) Deliver(ctx context.Context, eventType, url, token string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{StatusCode: http.StatusInternalServerError, Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(d.header, Sign(body, token))

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.DeliveryDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	if err != nil {
		return &DeliveryError{StatusCode: http.StatusInternalServerError, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}
