package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/tracing"
)

// maxBody bounds how much of a response is read; reports from large fleets
// stay well below it.
const maxBody = 16 << 20

// StatusError is a response outside the 2xx range.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Body)
	var body protocol.ErrorBody
	if json.Unmarshal([]byte(msg), &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Code, msg)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Option configures a client.
type Option func(*transport)

// WithHTTPClient replaces the default pooled client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *transport) { t.http = c }
}

// WithTracing starts a client span per call and, when enabled, propagates
// the trace to the peer.
func WithTracing(p *tracing.Provider) Option {
	return func(t *transport) {
		t.tracer = p.Tracer()
		t.propagate = p.ShouldPropagate()
	}
}

type transport struct {
	http      *http.Client
	tracer    trace.Tracer
	propagate bool
}

func newTransport(timeout time.Duration, opts []Option) *transport {
	t := &transport{
		http:   NewClient(timeout),
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// call issues one request against base+rel. A non-nil out receives the JSON
// response, or the raw body when out is a *string.
func (t *transport) call(ctx context.Context, op, method, base, rel string, body BodySource, out any) (err error) {
	target, err := resolve(base, rel)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ctx, span := tracing.StartCallSpan(ctx, t.tracer, op, base)
	code := 0
	defer func() {
		tracing.EndSpan(span, err, attribute.Int("http.status_code", code))
	}()

	if body == nil {
		body = emptyBodySource{}
	}
	reader, err := body.NewReader()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		_ = reader.Close()
		return fmt.Errorf("%s: %w", op, err)
	}
	if length, ok := body.ContentLength(); ok {
		req.ContentLength = length
	}
	req.GetBody = body.NewReader
	if ct := body.ContentType(); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	if t.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	code = resp.StatusCode

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Code: resp.StatusCode, Body: string(data)}
	}

	switch v := out.(type) {
	case nil:
	case *string:
		*v = string(data)
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

func resolve(base, rel string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	r, err := url.Parse(strings.TrimPrefix(rel, "/"))
	if err != nil {
		return "", fmt.Errorf("path: %w", err)
	}
	return u.ResolveReference(r).String(), nil
}

func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
