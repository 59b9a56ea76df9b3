package ratelimit

import (
	"net/http"
	"net/netip"
	"strings"
)

// UnknownIP is returned by ClientIP when no trusted header carries a valid address.
// All such clients share one bucket.
const UnknownIP = "unknown"

// clientIPHeaders are consulted in order; the first valid address wins.
var clientIPHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"X-Vercel-Forwarded-For",
}

// ClientIP resolves the caller's address from the proxy headers set by the
// edge in front of the service. RemoteAddr is deliberately ignored.
func ClientIP(r *http.Request) string {
	for _, h := range clientIPHeaders {
		if ip, ok := normalizeIP(r.Header.Get(h)); ok {
			return ip
		}
	}
	return UnknownIP
}

// normalizeIP takes the first comma-separated element, unwraps "[v6]:port"
// and returns the canonical text of the address, so every spelling of one
// client maps to one bucket. IPv4-mapped addresses collapse to plain IPv4.
func normalizeIP(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	first, _, _ := strings.Cut(raw, ",")
	candidate := strings.TrimSpace(first)
	if candidate == "" {
		return "", false
	}

	if strings.HasPrefix(candidate, "[") {
		end := strings.Index(candidate, "]")
		if end < 0 {
			return "", false
		}
		rest := candidate[end+1:]
		if rest != "" && !validPortSuffix(rest) {
			return "", false
		}
		candidate = candidate[1:end]
	}

	addr, err := netip.ParseAddr(candidate)
	if err != nil || addr.Zone() != "" {
		return "", false
	}
	return addr.Unmap().String(), true
}

func validPortSuffix(s string) bool {
	if len(s) < 2 || s[0] != ':' {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
