package upstream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Neno73/promidata-sync/pkg/errors"
	"github.com/Neno73/promidata-sync/pkg/httpclient"
)

func testClient(baseURL string) *Client {
	cfg := httpclient.Config{
		Timeout:         time.Second,
		MaxRetries:      3,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    2 * time.Millisecond,
		MaxConnsPerHost: 4,
	}
	return New(baseURL, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchTextRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("A23/A23-100.json|abc123\n"))
	}))
	defer srv.Close()

	text, err := testClient(srv.URL).FetchText(context.Background(), "/Import/Import.txt")
	require.NoError(t, err)
	assert.Contains(t, text, "A23-100.json")
}

func TestFetchJSONSurfacesUpstreamErrorOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var doc map[string]any
	err := testClient(srv.URL).FetchJSON(context.Background(), "/A23/gone.json", &doc)
	require.Error(t, err)

	var ue *pkgerrors.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusNotFound, ue.LastStatus)
	assert.Equal(t, 1, ue.Attempts, "4xx must not consume the retry budget")
}

func TestFetchJSONMalformedBodyIsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	var doc map[string]any
	err := testClient(srv.URL).FetchJSON(context.Background(), "/A23/bad.json", &doc)
	require.Error(t, err)

	var ve *pkgerrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestFetchBytesReportsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	body, contentType, err := testClient(srv.URL).FetchBytes(context.Background(), "/img/1.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
	assert.Len(t, body, 4)
}

func TestRepeatedFeedFailuresOpenTheCircuit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := httpclient.Config{
		Timeout:         time.Second,
		MaxRetries:      0,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    time.Millisecond,
		MaxConnsPerHost: 4,
	}
	c := New(srv.URL, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.FetchText(ctx, "/Import/Import.txt")
		require.Error(t, err)
	}

	reached := atomic.LoadInt32(&calls)
	_, err := c.FetchText(ctx, "/Import/Import.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, httpclient.ErrCircuitOpen)
	assert.Equal(t, reached, atomic.LoadInt32(&calls), "an open circuit must not reach the feed")

	var ue *pkgerrors.UpstreamError
	assert.ErrorAs(t, err, &ue)
}

func TestResolve(t *testing.T) {
	c := testClient("https://feed.example/base/")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"relative", "A23/A23-100.json", "https://feed.example/base/A23/A23-100.json"},
		{"leading slash", "/A23/A23-100.json", "https://feed.example/base/A23/A23-100.json"},
		{"absolute passthrough", "https://cdn.example/x.json", "https://cdn.example/x.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Resolve(tt.in))
		})
	}
}
