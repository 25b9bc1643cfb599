// Package httpclient sends JSON requests to the remote services the pipeline
// depends on, with request/response logging and an explicit retry policy.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/survey-docparser/internal/common"
)

const maxBodyBytes = 32 << 20

// RetryPolicy controls transport-level retries. Network errors, 429 and 5xx
// responses are retried up to MaxRetries times; zero disables retries.
type RetryPolicy struct {
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Request describes one logical call.
type Request struct {
	Name    string // log prefix, e.g. "catalog"
	Method  string
	URL     string
	Body    any // JSON-encoded when non-nil
	Headers map[string]string
}

// Response is the final attempt's response.
type Response struct {
	Status int
	Reason string
	Header http.Header
	Body   []byte
}

// StatusError is returned for a final non-2xx response.
type StatusError struct {
	Status int
	Reason string
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx status: %d %s", e.Status, e.Reason)
}

// Sender wraps an *http.Client with logging and retries.
type Sender struct {
	client *http.Client
	retry  RetryPolicy
	logger *slog.Logger
}

func New(client *http.Client, retry RetryPolicy, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	if retry.MinBackoff <= 0 {
		retry.MinBackoff = 200 * time.Millisecond
	}
	if retry.MaxBackoff < retry.MinBackoff {
		retry.MaxBackoff = retry.MinBackoff
	}
	return &Sender{client: client, retry: retry, logger: logger}
}

// Do performs the request. A non-2xx final response is returned together with
// a *StatusError so callers can still inspect the body.
func (s *Sender) Do(ctx context.Context, r Request) (*Response, error) {
	name := r.Name
	if name == "" {
		name = "http"
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var payload []byte
	if r.Body != nil {
		bs, err := json.Marshal(r.Body)
		if err != nil {
			s.logger.Error(name+".http.encode_error", "error", err)
			return nil, fmt.Errorf("encode json: %w", err)
		}
		payload = bs
	}

	reqID := common.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = uuid.New().String()
	}
	runID := common.RunIDFromContext(ctx)
	start := time.Now()

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
		if err != nil {
			s.logger.Error(name+".http.build_request_error", "req_id", reqID, "error", err)
			return nil, fmt.Errorf("build request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", reqID)
		for k, v := range r.Headers {
			req.Header.Set(k, v)
		}

		s.logger.Info(name+".http.request",
			"req_id", reqID,
			"run_id", runID,
			"method", method,
			"url", r.URL,
			"attempt", attempt+1,
			"content_length", len(payload),
		)

		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.Error(name+".http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
			if ctx.Err() == nil && attempt < s.retry.MaxRetries {
				if werr := sleep(ctx, s.backoff(attempt)); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, err
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Warn(name+".http.response_body_close_error", "req_id", reqID, "error", cerr)
		}
		if readErr != nil {
			return nil, fmt.Errorf("read body: %w", readErr)
		}

		out := &Response{
			Status: resp.StatusCode,
			Reason: reasonPhrase(resp),
			Header: resp.Header,
			Body:   raw,
		}
		s.logger.Info(name+".http.response",
			"req_id", reqID,
			"run_id", runID,
			"status", resp.StatusCode,
			"bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)

		if resp.StatusCode/100 == 2 {
			return out, nil
		}
		if retryable(resp.StatusCode) && attempt < s.retry.MaxRetries {
			wait := s.backoff(attempt)
			if ra, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				wait = ra
			}
			s.logger.Warn(name+".http.retry", "req_id", reqID, "status", resp.StatusCode, "wait_ms", wait.Milliseconds())
			if werr := sleep(ctx, wait); werr != nil {
				return nil, werr
			}
			continue
		}
		return out, &StatusError{Status: out.Status, Reason: out.Reason, Body: raw}
	}
}

// DecodeJSON unmarshals a successful response body.
func DecodeJSON(resp *Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// backoff is exponential with +/-20% jitter, capped at MaxBackoff.
func (s *Sender) backoff(attempt int) time.Duration {
	d := s.retry.MinBackoff << attempt
	if d <= 0 || d > s.retry.MaxBackoff {
		d = s.retry.MaxBackoff
	}
	return time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}
