package provider

import (
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	defaultMaxRetries = 5
	maxRetryDelay     = 5 * time.Minute
)

// RateLimitTransport wraps an http.RoundTripper with a request pacer and
// retries for rate-limited responses. A 403 counts as rate limited only
// when GitHub reports an exhausted quota.
type RateLimitTransport struct {
	ReqPerSec  float64           // 0 = unlimited (retry-only)
	MaxRetries int               // 0 = defaultMaxRetries
	Base       http.RoundTripper // nil = http.DefaultTransport

	// now is replaceable in tests.
	now func() time.Time

	once    sync.Once
	limiter chan struct{}
}

func (t *RateLimitTransport) init() {
	if t.now == nil {
		t.now = time.Now
	}
	if t.ReqPerSec > 0 {
		t.limiter = make(chan struct{}, 1)
		interval := time.Duration(float64(time.Second) / t.ReqPerSec)
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for range ticker.C {
				select {
				case t.limiter <- struct{}{}:
				default:
				}
			}
		}()
	}
}

func (t *RateLimitTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *RateLimitTransport) maxRetries() int {
	if t.MaxRetries > 0 {
		return t.MaxRetries
	}
	return defaultMaxRetries
}

// RoundTrip implements http.RoundTripper.
func (t *RateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.once.Do(t.init)

	for attempt := 0; ; attempt++ {
		if t.limiter != nil {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-t.limiter:
			}
		}

		resp, err := t.base().RoundTrip(req)
		if err != nil {
			return nil, err
		}

		if !rateLimited(resp) || attempt >= t.maxRetries() {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(t.retryDelay(resp, attempt)):
		}
	}
}

func rateLimited(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Header.Get("X-RateLimit-Remaining") == "0"
	}
	return false
}

// retryDelay prefers Retry-After (seconds or HTTP date), then
// X-RateLimit-Reset, then exponential backoff (1s, 2s, 4s...).
func (t *RateLimitTransport) retryDelay(resp *http.Response, attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt)) * time.Second

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			delay = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(ra); err == nil {
			if d := at.Sub(t.now()); d > 0 {
				delay = d
			}
		}
	} else if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(t.now()); d > 0 {
				delay = d
			}
		}
	}

	return min(delay, maxRetryDelay)
}
