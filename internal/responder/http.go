package responder

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/mentorai/internal/reliability"
)

var ErrMalformedPayload = errors.New("malformed response payload")

// StatusError reports a non-2xx reply from the remote endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote responder status %d: %s", e.Code, e.Body)
}

type remoteRequest struct {
	Message string `json:"message"`
}

type remoteResponse struct {
	Response *string `json:"response"`
}

// HTTPStrategy posts the raw user text to a remote chat endpoint.
type HTTPStrategy struct {
	url     string
	client  *http.Client
	breaker *reliability.Breaker
}

func NewHTTPStrategy(url string, timeout time.Duration, breaker *reliability.Breaker) *HTTPStrategy {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HTTPStrategy{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
					return operation + " " + r.URL.Path
				}),
			),
		},
		breaker: breaker,
	}
}

// BreakerCounts decides which remote failures should trip the breaker:
// unreachable upstreams and retryable statuses, not malformed payloads or 4xx.
func BreakerCounts(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return reliability.IsRetryableHTTPStatus(statusErr.Code)
	}
	return reliability.IsUnreachable(err)
}

func (s *HTTPStrategy) Name() string { return "remote" }

func (s *HTTPStrategy) Resolve(ctx context.Context, text string) (Result, error) {
	ctx, span := tracer.Start(ctx, "resolve remote response", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("request.url", s.url))

	var out Result
	err := s.breaker.Do(func() error {
		res, err := s.post(ctx, text)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	return out, nil
}

func (s *HTTPStrategy) post(ctx context.Context, text string) (Result, error) {
	payload, err := json.Marshal(remoteRequest{Message: text})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Result{}, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	var parsed remoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if parsed.Response == nil || strings.TrimSpace(*parsed.Response) == "" {
		return Result{}, fmt.Errorf("%w: missing response field", ErrMalformedPayload)
	}
	return Result{Text: *parsed.Response, Source: SourceRemote}, nil
}
