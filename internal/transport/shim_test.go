package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-relay/internal/providers"
)

func TestShim_Do(t *testing.T) {
	var gotMethod, gotHeader string
	var gotBody []byte

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Goog-Api-Key")
		gotBody, _ = io.ReadAll(r.Body)

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	shim := New(5 * time.Second)

	header := http.Header{}
	header.Set("x-goog-api-key", "key-123")

	resp, err := shim.Do(context.Background(), &providers.OutboundRequest{
		Method: http.MethodPost,
		URL:    upstream.URL,
		Header: header,
		Body:   []byte(`{"contents":[]}`),
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "key-123", gotHeader)
	assert.JSONEq(t, `{"contents":[]}`, string(gotBody))
}

func TestShim_DoContextCancelled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	shim := New(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := shim.Do(ctx, &providers.OutboundRequest{
		Method: http.MethodPost,
		URL:    upstream.URL,
		Body:   []byte(`{}`),
	})
	assert.Error(t, err)
}

func TestBodyReader_Gzip(t *testing.T) {
	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"compressed":true}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	resp := &http.Response{
		Header: http.Header{"Content-Encoding": {"gzip"}},
		Body:   io.NopCloser(&buf),
	}

	reader, err := BodyReader(resp)
	require.NoError(t, err)

	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.JSONEq(t, `{"compressed":true}`, string(body))
}

func TestBodyReader_Identity(t *testing.T) {
	resp := &http.Response{
		Header: http.Header{},
		Body:   io.NopCloser(bytes.NewReader([]byte("plain"))),
	}

	reader, err := BodyReader(resp)
	require.NoError(t, err)

	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(body))
}
