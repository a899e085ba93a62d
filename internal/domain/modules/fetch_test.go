package modules

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcherDoPassesStatusThrough(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Agent", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusTeapot)
		w.Write(body)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{HTTPClient: srv.Client(), UserAgent: "test-agent"})
	resp, err := f.Do(context.Background(), &FetchRequest{
		URL:     srv.URL + "/echo",
		Method:  http.MethodPost,
		Headers: map[string]string{"Content-Type": "text/plain"},
		Body:    "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.Status)
	assert.Equal(t, "hello", resp.Body)
	assert.Equal(t, "POST", resp.Headers["x-method"])
	assert.Equal(t, "test-agent", resp.Headers["x-agent"])
}

func TestFetcherRejectsOtherSchemes(t *testing.T) {
	f := NewHTTPFetcher(FetcherConfig{})
	_, err := f.Do(context.Background(), &FetchRequest{URL: "file:///etc/passwd"})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestFetcherHonorsContext(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewHTTPFetcher(FetcherConfig{HTTPClient: srv.Client()})
	_, err := f.Fetch(ctx, srv.URL)
	assert.Error(t, err)
}
