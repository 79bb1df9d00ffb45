package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	testCases := []struct {
		name      string
		forwarded string
		realIP    string
		expected  string
	}{
		{name: "single forwarded hop", forwarded: "203.0.113.7", expected: "203.0.113.7"},
		{name: "proxy chain uses first hop", forwarded: " 203.0.113.7 , 10.0.0.2, 10.0.0.3", expected: "203.0.113.7"},
		{name: "empty first hop falls through", forwarded: ", 10.0.0.2", realIP: "198.51.100.4", expected: "198.51.100.4"},
		{name: "real ip", realIP: "198.51.100.4", expected: "198.51.100.4"},
		{name: "remote addr", expected: "192.0.2.1:1234"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/slack/commands", nil)
			if tc.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				r.Header.Set("X-Real-IP", tc.realIP)
			}

			assert.Equal(t, tc.expected, getClientIP(r))
		})
	}
}

func TestPerIPRateLimit_SharesBucketAcrossProxyChains(t *testing.T) {
	handler := PerIPRateLimitMiddleware(0.001, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(forwarded string) int {
		r := httptest.NewRequest(http.MethodPost, "/slack/commands", nil)
		r.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.7, 10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.7, 10.0.0.9"))
	assert.Equal(t, http.StatusOK, send("203.0.113.8, 10.0.0.2"))
}
