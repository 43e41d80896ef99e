// Package fetcher retrieves catalog pages over HTTPS with rotating client
// identity, a bounded retry policy and a declared-encoding-then-autodetect
// decode chain.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"storewatcher/internal/useragent"
	"storewatcher/logger"
	pkgerrors "storewatcher/pkg/errors"
	"storewatcher/services/cache"
)

const (
	maxAttempts      = 3
	retryPause       = 2 * time.Second
	defaultBlockTime = 60 * time.Second
)

var referers = []string{
	"https://www.google.com/",
	"https://www.bing.com/",
	"https://duckduckgo.com/",
}

// Fetcher fetches single pages. TLS certificate and hostname verification
// are always on; there is no insecure mode.
type Fetcher struct {
	client  *http.Client
	rotator *useragent.Rotator
	cache   cache.CacheService
	log     *logger.Logger

	// RetryPause is the fixed wait between attempts.
	RetryPause time.Duration
}

// New creates a fetcher. cacheSvc may be nil, disabling rate-limit blocks.
func New(rotator *useragent.Rotator, cacheSvc cache.CacheService) *Fetcher {
	return &Fetcher{
		client:     &http.Client{Timeout: 10 * time.Second},
		rotator:    rotator,
		cache:      cacheSvc,
		log:        logger.ForComponent("fetcher"),
		RetryPause: retryPause,
	}
}

// Fetch retrieves one page as decoded text. declaredEncoding is the
// rule-declared charset hint, may be empty. Network failures (connection
// errors, non-2xx, timeouts) are retried up to 3 times with a fixed pause;
// decode problems are never fatal.
func (f *Fetcher) Fetch(ctx context.Context, storeName, url, declaredEncoding string) (string, error) {
	blockKey := "block:" + storeName
	if f.cache != nil {
		if _, err := f.cache.Get(blockKey); err == nil {
			return "", pkgerrors.NewRateLimit(storeName, defaultBlockTime)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(f.RetryPause):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			f.log.Warn().Str("store", storeName).Str("url", url).Int("attempt", attempt).Msg("Retrying fetch")
		}

		body, contentType, err := f.attempt(ctx, url)
		if err == nil {
			return f.decode(storeName, body, contentType, declaredEncoding), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		var werr *pkgerrors.WatcherError
		if we, ok := err.(*pkgerrors.WatcherError); ok {
			werr = we
		}
		if werr != nil && werr.Type == pkgerrors.ErrorTypeRateLimit {
			f.setBlock(blockKey, storeName)
			return "", pkgerrors.NewRateLimit(storeName, defaultBlockTime)
		}
		lastErr = err
	}

	return "", pkgerrors.NewNetwork(storeName, fmt.Sprintf("all %d attempts failed for %s", maxAttempts, url), lastErr)
}

// attempt performs a single request with the next rotator identity.
func (f *Fetcher) attempt(ctx context.Context, url string) (body []byte, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	agent := f.rotator.Next()
	req.Header.Set("User-Agent", agent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ja,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Referer", referers[rand.IntN(len(referers))])
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 430 {
		return nil, "", pkgerrors.NewRateLimit("", blockDuration(resp.Header.Get("Retry-After")))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch %s unexpected status code: %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// decode resolves page text: the declared encoding first, automatic charset
// detection when that fails, permissive UTF-8 as the last resort.
func (f *Fetcher) decode(storeName string, body []byte, contentType, declared string) string {
	if declared != "" {
		if enc, err := htmlindex.Get(declared); err != nil {
			f.log.Warn().Str("store", storeName).Str("encoding", declared).Msg("Unknown declared encoding, autodetecting")
		} else if text, ok := decodeWith(enc, body); ok {
			return text
		} else {
			f.log.Warn().Str("store", storeName).Str("encoding", declared).Msg("Declared encoding failed, autodetecting")
		}
	}

	detected, name, _ := charset.DetermineEncoding(body, contentType)
	if text, ok := decodeWith(detected, body); ok {
		f.log.Debug().Str("store", storeName).Str("encoding", name).Msg("Decoded with detected encoding")
		return text
	}

	f.log.Warn().Str("store", storeName).Msg("Charset detection failed, falling back to lossy UTF-8")
	return strings.ToValidUTF8(string(body), "�")
}

// decodeWith decodes body and reports failure when the result contains
// replacement runes the input did not ask for.
func decodeWith(enc encoding.Encoding, body []byte) (string, bool) {
	reader := enc.NewDecoder().Reader(bytes.NewReader(body))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", false
	}
	text := buf.String()
	if strings.ContainsRune(text, '�') && !bytes.ContainsRune(body, '�') {
		return "", false
	}
	return text, true
}

func (f *Fetcher) setBlock(key, storeName string) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Set(key, []byte("blocked"), defaultBlockTime); err != nil {
		f.log.Debug().Err(err).Str("store", storeName).Msg("Failed to set rate limit block")
	}
}

func blockDuration(retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultBlockTime
}
