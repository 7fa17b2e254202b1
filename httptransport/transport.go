// Package httptransport delivers actions to an HTTP backend.
//
// Each action is a POST of its JSON payload to {base}/actions/{kind}. The dedupe key travels in
// the Idempotency-Key header so the backend can discard replays it already applied.
//
// Responses are classified as follows:
//   - 2xx is success
//   - 408, 429 and 5xx are transient
//   - other 4xx are *actionqueue.LogicError carrying the backend message
//   - transport failures are transient
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/velmie/actionqueue"
)

const (
	// HeaderIdempotencyKey carries the action dedupe key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderActionKind carries the action kind.
	HeaderActionKind = "X-Action-Kind"

	maxErrorBody = 4 << 10
	maxMessage   = 512
)

// ErrBaseURLInvalid is returned when the backend URL cannot be used.
var ErrBaseURLInvalid = errors.New("actionqueue http: invalid base url")

// Transport implements actionqueue.Transport over HTTP.
type Transport struct {
	client  *http.Client
	base    *url.URL
	limiter *rate.Limiter
	header  http.Header
}

var _ actionqueue.Transport = (*Transport)(nil)

// Option configures the Transport.
type Option func(*Transport)

// WithHTTPClient sets the HTTP client. The per-send deadline comes from the context.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		t.client = client
	}
}

// WithRateLimit caps outgoing requests per second. Flushing a long queue after an outage then
// does not hammer the backend.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(t *Transport) {
		if perSecond <= 0 {
			t.limiter = nil

			return
		}
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(t *Transport) {
		t.header.Add(key, value)
	}
}

// WithBearerToken sets the Authorization header.
func WithBearerToken(token string) Option {
	return func(t *Transport) {
		t.header.Set("Authorization", "Bearer "+token)
	}
}

// New creates a transport for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Transport, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBaseURLInvalid, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBaseURLInvalid, baseURL)
	}

	t := &Transport{
		client: http.DefaultClient,
		base:   base,
		header: http.Header{},
	}
	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// Send implements actionqueue.Transport.
func (t *Transport) Send(ctx context.Context, kind string, payload json.RawMessage) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return actionqueue.NewTransientError(actionqueue.TransientTimeout, fmt.Errorf("rate limit: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(kind), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("actionqueue http: build request: %w", err)
	}
	for key, values := range t.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderActionKind, kind)
	if key, ok := actionqueue.IdempotencyKeyFromContext(ctx); ok {
		req.Header.Set(HeaderIdempotencyKey, key)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return actionqueue.NewTransientError(actionqueue.TransientKindOf(err), err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
	}()

	return classify(resp)
}

// endpoint keeps kind a single path segment under actions/.
func (t *Transport) endpoint(kind string) string {
	segment := url.PathEscape(kind)
	if segment == "." || segment == ".." {
		segment = strings.ReplaceAll(segment, ".", "%2E")
	}

	return t.base.JoinPath("actions", segment).String()
}

func classify(resp *http.Response) error {
	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return nil
	}

	message := readMessage(resp.Body)
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusRequestTimeout:
		return actionqueue.NewTransientError(actionqueue.TransientTimeout, statusError(status, message))
	case status == http.StatusTooManyRequests, status >= 500:
		return actionqueue.NewTransientError(actionqueue.TransientUnavailable, statusError(status, message))
	case status >= 400:
		return actionqueue.NewLogicError("http_"+strconv.Itoa(status), message)
	default:
		return actionqueue.NewTransientError(actionqueue.TransientUnavailable, statusError(status, message))
	}
}

type statusErr struct {
	status  int
	message string
}

func (e statusErr) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.message)
}

func statusError(status int, message string) error {
	return statusErr{status: status, message: message}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se statusErr
	if errors.As(err, &se) {
		return se.status
	}
	var logicErr *actionqueue.LogicError
	if errors.As(err, &logicErr) && strings.HasPrefix(logicErr.Code, "http_") {
		status, _ := strconv.Atoi(strings.TrimPrefix(logicErr.Code, "http_"))

		return status
	}

	return 0
}

func readMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}

	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &parsed) == nil {
		if parsed.Message != "" {
			return truncate(parsed.Message)
		}
		if parsed.Error != "" {
			return truncate(parsed.Error)
		}
	}

	return truncate(strings.TrimSpace(string(data)))
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxMessage {
		return s
	}

	return string([]rune(s)[:maxMessage])
}
