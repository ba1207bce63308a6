package api

import (
	"net"
	"net/http"
	"net/netip"
	"regexp"
	"strings"
)

var (
	connStringPattern = regexp.MustCompile(`(?:mongodb(?:\+srv)?|clickhouse|redis|nats|sqlite)://[^\s"']+`)
	filePathPattern   = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\\/:*?"<>|\s]+[\\/])+[^\\/:*?"<>|\s]+`)
	privateIPPattern  = regexp.MustCompile(`\b(?:10|127)(?:\.\d{1,3}){3}(?::\d{1,5})?\b|\b192\.168(?:\.\d{1,3}){2}(?::\d{1,5})?\b|\b172\.(?:1[6-9]|2\d|3[01])(?:\.\d{1,3}){2}(?::\d{1,5})?\b`)
	secretPattern     = regexp.MustCompile(`(?i)(password|secret|token|key|credential)[:=]\s*["']?[^"'\s]+["']?`)
	controlPattern    = regexp.MustCompile(`[\x00-\x1F\x7F]`)
)

const maxClientErrorLength = 256

// sanitizeErrorMessage strips connection strings, paths, private
// addresses and credentials from a message meant for clients
func sanitizeErrorMessage(message string) string {
	message = connStringPattern.ReplaceAllString(message, "[DATABASE_CONNECTION]")
	message = filePathPattern.ReplaceAllString(message, "[FILE_PATH]")
	message = privateIPPattern.ReplaceAllString(message, "[PRIVATE_IP]")
	message = secretPattern.ReplaceAllString(message, "$1=[REDACTED]")
	if len(message) > maxClientErrorLength {
		message = message[:maxClientErrorLength-3] + "..."
	}
	return message
}

// sanitizeLogMessage prevents log injection and drops credentials
func sanitizeLogMessage(message string) string {
	message = strings.NewReplacer("\n", "\\n", "\r", "\\r", "\t", "\\t").Replace(message)
	message = controlPattern.ReplaceAllString(message, "")
	message = secretPattern.ReplaceAllString(message, "$1=[REDACTED]")
	return connStringPattern.ReplaceAllString(message, "[DB_CONNECTION]")
}

// getRealIP returns the client address. Forwarding headers are honored
// only when the direct peer is a trusted proxy.
func getRealIP(r *http.Request, trustProxy bool, trustedNetworks []string) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}
	if !trustProxy || !isTrustedProxy(directIP, trustedNetworks) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	for _, header := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if ip := r.Header.Get(header); ip != "" && net.ParseIP(ip) != nil {
			return ip
		}
	}
	return directIP
}

// isTrustedProxy checks ip against CIDRs or exact addresses
func isTrustedProxy(ip string, trustedNetworks []string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, network := range trustedNetworks {
		if strings.Contains(network, "/") {
			prefix, err := netip.ParsePrefix(network)
			if err == nil && prefix.Contains(addr) {
				return true
			}
		} else if network == ip {
			return true
		}
	}
	return false
}
