// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Transport delivers a JSON payload to an endpoint.
type Transport interface {
	Post(ctx context.Context, endpoint *url.URL, payload []byte) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, endpoint *url.URL, payload []byte) error

func (f TransportFunc) Post(ctx context.Context, endpoint *url.URL, payload []byte) error {
	return f(ctx, endpoint, payload)
}

// HTTPTransport posts payloads with an instrumented http.Client.
type HTTPTransport struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPTransport returns a transport whose requests are bounded by
// timeout. A zero timeout leaves requests bounded only by ctx.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "webhook " + r.Method
				}),
			),
		},
		timeout: timeout,
	}
}

// Post sends payload and treats any non-2xx status as an error.
func (t *HTTPTransport) Post(ctx context.Context, endpoint *url.URL, payload []byte) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
