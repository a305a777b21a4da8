// Package transport owns the outbound HTTP plumbing: turning a provider's
// outbound request description into a real call, and normalizing the
// response body before translation. It knows nothing about either wire
// protocol.
package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"

	"claude-relay/internal/providers"
)

// DefaultTimeout bounds one outbound backend call end to end. On expiry the
// in-flight translation is abandoned and the caller gets an error; no
// partial canonical stream is left half-open.
const DefaultTimeout = 10 * time.Minute

type Shim struct {
	client *http.Client
}

// New builds a shim with a pooled client. Proxy selection follows the
// process environment; connection pooling is opaque to the translator.
func New(timeout time.Duration) *Shim {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Shim{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		},
	}
}

// Do sends one outbound request. The context comes from the inbound call,
// so a client disconnect aborts the backend call and releases its body.
func (s *Shim) Do(ctx context.Context, out *providers.OutboundRequest) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, bytes.NewReader(out.Body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	for key, values := range out.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	return resp, nil
}

// BodyReader wraps the response body with transparent decompression. The
// caller closes the returned reader when it implements io.Closer.
func BodyReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}

		return reader, nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}
