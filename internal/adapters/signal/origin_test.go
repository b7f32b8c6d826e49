package signal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOriginChecker(t *testing.T) {
	check := OriginChecker([]string{"https://app.example.com", "mobile.example.com", " "})

	cases := []struct {
		name   string
		host   string
		origin string
		want   bool
	}{
		{"same host", "api.example.com", "https://api.example.com", true},
		{"configured origin", "api.example.com", "https://app.example.com", true},
		{"configured bare host", "api.example.com", "capacitor://mobile.example.com", true},
		{"foreign", "api.example.com", "https://evil.example.net", false},
		{"missing", "api.example.com", "", false},
		{"garbage", "api.example.com", "::::", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tc.host
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.want, check(r))
		})
	}
}

func TestUserRateLimiter(t *testing.T) {
	rl := NewUserRateLimiter(1, 2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"), "burst exhausted")
	assert.True(t, rl.Allow("bob"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("alice"))
}
