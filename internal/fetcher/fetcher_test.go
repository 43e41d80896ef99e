package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"

	"storewatcher/internal/useragent"
	pkgerrors "storewatcher/pkg/errors"
)

func testFetcher(t *testing.T, cache *mockCache) *Fetcher {
	t.Helper()
	rotator := useragent.New("", filepath.Join(t.TempDir(), "cursor"))
	var f *Fetcher
	if cache != nil {
		f = New(rotator, cache)
	} else {
		f = New(rotator, nil)
	}
	f.RetryPause = time.Millisecond
	return f
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	f := testFetcher(t, nil)
	text, err := f.Fetch(context.Background(), "test-store", srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "<html>hello</html>", text)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestFetchGivesUpAfterThreeAttempts(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := testFetcher(t, nil)
	_, err := f.Fetch(context.Background(), "test-store", srv.URL, "")
	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load(), "no more than 3 attempts for a permanently failing URL")

	var werr *pkgerrors.WatcherError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, pkgerrors.ErrorTypeNetwork, werr.Type)
}

func TestFetchRotatesIdentityPerAttempt(t *testing.T) {
	var agents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := testFetcher(t, nil)
	_, err := f.Fetch(context.Background(), "test-store", srv.URL, "")
	require.Error(t, err)
	require.Len(t, agents, 3)
	assert.NotEqual(t, agents[0], agents[1], "each attempt uses the next rotator identity")
	assert.NotEqual(t, agents[1], agents[2])
}

func TestFetchRateLimitSetsBlock(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cache := newMockCache()
	f := testFetcher(t, cache)

	_, err := f.Fetch(context.Background(), "test-store", srv.URL, "")
	require.Error(t, err)
	var werr *pkgerrors.WatcherError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, pkgerrors.ErrorTypeRateLimit, werr.Type)
	assert.Equal(t, int32(1), attempts.Load(), "rate limiting is not retried")

	_, ok := cache.cache["block:test-store"]
	assert.True(t, ok, "a block key is set for the store")

	// While blocked, no request goes out at all
	_, err = f.Fetch(context.Background(), "test-store", srv.URL, "")
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestFetchDecodesDeclaredEncoding(t *testing.T) {
	original := "日本語のテスト"
	encoded, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(original))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write(encoded)
	}))
	defer srv.Close()

	f := testFetcher(t, nil)
	text, err := f.Fetch(context.Background(), "test-store", srv.URL, "shift_jis")
	require.NoError(t, err)
	assert.Equal(t, original, text)
}

func TestFetchFallsBackToAutodetect(t *testing.T) {
	// Curly quotes make this UTF-8 byte stream invalid EUC-JP, so the
	// declared encoding fails and detection takes over.
	original := "he said “hello”"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(original))
	}))
	defer srv.Close()

	f := testFetcher(t, nil)
	text, err := f.Fetch(context.Background(), "test-store", srv.URL, "euc-jp")
	require.NoError(t, err)
	assert.Equal(t, original, text)
}

func TestFetchCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := testFetcher(t, nil)
	_, err := f.Fetch(ctx, "test-store", srv.URL, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeWithReplacementDetection(t *testing.T) {
	// A body that already contains a replacement rune is not treated as a
	// decode failure.
	body := []byte("already � here")
	text, ok := decodeWith(unicode.UTF8, body)
	require.True(t, ok)
	assert.Equal(t, "already � here", text)

	// Invalid Shift_JIS input is a failure, not a silent mangling
	_, ok = decodeWith(japanese.ShiftJIS, []byte{0x82, 0x20, 0x82})
	assert.False(t, ok)
}
