// Package delivery performs single-attempt HTTP delivery of formatted
// bodies to targets.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"

	"github.com/xraph/forwarder/signature"
	"github.com/xraph/forwarder/target"
)

// UserAgent is sent on every delivery.
const UserAgent = "hookrelay/1.0"

// DefaultTimeout bounds a delivery when neither the sender nor the target
// sets one.
const DefaultTimeout = 5 * time.Second

const maxResponseBody = 1024 // 1KB cap on response body storage

// Result is the outcome of one delivery attempt.
type Result struct {
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
	Response   string `json:"response,omitempty"`
	LatencyMs  int    `json:"latency_ms"`
}

// OK reports whether the target accepted the delivery with a 2xx status.
func (r Result) OK() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender performs HTTP webhook delivery.
type Sender struct {
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithHTTPClient replaces the HTTP client. Its Timeout should be zero or at
// least the largest per-target timeout.
func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *Sender) { s.client = c }
}

// WithClock sets the clock used for signature timestamps.
func WithClock(now func() time.Time) SenderOption {
	return func(s *Sender) { s.now = now }
}

// NewSender creates a sender whose deliveries are bounded by timeout unless
// a target overrides it.
func NewSender(timeout time.Duration, opts ...SenderOption) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Sender{
		client:  &http.Client{},
		timeout: timeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timeout returns the default per-delivery timeout.
func (s *Sender) Timeout() time.Duration { return s.timeout }

// Send POSTs body as JSON to t and returns the result. It never returns an
// error: failures are reported in Result.Error.
func (s *Sender) Send(ctx context.Context, t *target.Target, body any) Result {
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	endpoint, err := s.endpointURL(t)
	if err != nil {
		return Result{Error: fmt.Sprintf("target url: %v", err)}
	}

	d := t.RequestTimeout(s.timeout)
	tm := timeout.New[Result](timeout.Config{DefaultTimeout: d})

	start := time.Now()
	res, err := tm.Execute(ctx, d, func(ctx context.Context) (Result, error) {
		return s.do(ctx, t, endpoint, payload), nil
	})
	if err != nil {
		return Result{
			Error:     fmt.Sprintf("delivery timed out after %s: %v", d, err),
			LatencyMs: int(time.Since(start).Milliseconds()),
		}
	}
	return res
}

func (s *Sender) do(ctx context.Context, t *target.Target, endpoint string, payload []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	if t.Type == target.TypeCustom && t.Secret != "" {
		ts := s.now().Unix()
		req.Header.Set(signature.Header, signature.Sign(payload, t.Secret, ts))
		req.Header.Set(signature.TimestampHeader, strconv.FormatInt(ts, 10))
	}

	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // URL is an operator-configured destination.
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		return Result{Error: err.Error(), LatencyMs: latency}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	res := Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  latency,
	}
	switch {
	case readErr != nil:
		res.Error = fmt.Sprintf("read response: %v", readErr)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return res
}

// endpointURL appends the DingTalk timestamp and sign parameters when the
// target has a secret.
func (s *Sender) endpointURL(t *target.Target) (string, error) {
	if t.Type != target.TypeDingTalk || t.Secret == "" {
		return t.URL, nil
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return "", err
	}
	ts := s.now().UnixMilli()
	q := u.Query()
	q.Set("timestamp", strconv.FormatInt(ts, 10))
	q.Set("sign", signature.DingTalk(ts, t.Secret))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
