package api

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		absent  string
		present string
	}{
		{"connection string", "dial mongodb://admin:pw@db:27017 failed", "admin:pw", "[DATABASE_CONNECTION]"},
		{"file path", "open /var/lib/watchtower/siem.db: denied", "/var/lib", "[FILE_PATH]"},
		{"private ip", "connect 10.0.3.4:9000 refused", "10.0.3.4", "[PRIVATE_IP]"},
		{"secret", "bad password=hunter2", "hunter2", "[REDACTED]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := sanitizeErrorMessage(tt.in)
			assert.NotContains(t, out, tt.absent)
			assert.Contains(t, out, tt.present)
		})
	}

	long := sanitizeErrorMessage(strings.Repeat("x", 1000))
	assert.Len(t, long, maxClientErrorLength)
}

func TestSanitizeLogMessage_NoInjection(t *testing.T) {
	out := sanitizeLogMessage("user\nINFO forged entry\x00")
	assert.NotContains(t, out, "\n")
	assert.NotContains(t, out, "\x00")
	assert.Contains(t, out, `\n`)
}

func TestGetRealIP(t *testing.T) {
	trusted := []string{"10.0.0.0/8", "192.0.2.1"}

	tests := []struct {
		name       string
		remote     string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{"direct", "198.51.100.4:5555", nil, true, "198.51.100.4"},
		{"untrusted peer ignores headers", "198.51.100.4:5555", map[string]string{"X-Forwarded-For": "1.2.3.4"}, true, "198.51.100.4"},
		{"trusted cidr uses first forwarded", "10.1.2.3:80", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.1.2.3"}, true, "203.0.113.9"},
		{"trusted exact uses real ip", "192.0.2.1:80", map[string]string{"X-Real-IP": "203.0.113.10"}, true, "203.0.113.10"},
		{"proxy trust disabled", "10.1.2.3:80", map[string]string{"X-Forwarded-For": "203.0.113.9"}, false, "10.1.2.3"},
		{"garbage forwarded falls back", "10.1.2.3:80", map[string]string{"X-Forwarded-For": "nonsense"}, true, "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getRealIP(r, tt.trustProxy, trusted))
		})
	}
}
