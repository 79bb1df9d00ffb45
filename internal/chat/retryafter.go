package chat

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultRetryAfter applies when a 429 carries no usable Retry-After.
const DefaultRetryAfter = time.Second

// ParseRetryAfter canonicalizes a Retry-After header value to whole seconds.
// Delta-seconds (fractions round up) and HTTP dates are accepted; anything
// else, including absent or non-positive values, yields DefaultRetryAfter.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfter
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return DefaultRetryAfter
		}
		return time.Duration(math.Ceil(secs)) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		wait := at.Sub(now)
		if wait <= 0 {
			return DefaultRetryAfter
		}
		return time.Duration(math.Ceil(wait.Seconds())) * time.Second
	}

	return DefaultRetryAfter
}

// RetryAfterTransport rewrites the Retry-After header of 429 responses to
// integer seconds so the Slack client can always parse it.
type RetryAfterTransport struct {
	next http.RoundTripper
	now  func() time.Time
}

func NewRetryAfterTransport(next http.RoundTripper) *RetryAfterTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RetryAfterTransport{next: next, now: time.Now}
}

func (t *RetryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}

	wait := ParseRetryAfter(resp.Header.Get("Retry-After"), t.now())
	resp.Header.Set("Retry-After", strconv.Itoa(int(wait/time.Second)))
	return resp, nil
}
