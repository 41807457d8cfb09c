package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/71lols/paradigm-website/pkg/httpx"
)

// ClientKeyer derives the limiter key from the originating network
// address, honoring forwarding headers only from trusted proxies.
type ClientKeyer struct {
	TrustedProxies []*net.IPNet
}

// NewClientKeyer parses comma-separated CIDRs; bare IPs get a host
// mask. Invalid entries are skipped.
func NewClientKeyer(cidrs string) *ClientKeyer {
	k := &ClientKeyer{}
	for _, raw := range strings.Split(cidrs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			if ip := net.ParseIP(raw); ip != nil {
				if ip.To4() != nil {
					raw += "/32"
				} else {
					raw += "/128"
				}
			}
		}
		if _, ipnet, err := net.ParseCIDR(raw); err == nil {
			k.TrustedProxies = append(k.TrustedProxies, ipnet)
		}
	}
	return k
}

// Key returns the client address for limiter keying. X-Forwarded-For is
// trusted one hop deep, and only when the direct peer is a configured
// proxy.
func (k *ClientKeyer) Key(r *http.Request) string {
	remoteIP := parseIP(r.RemoteAddr)
	if remoteIP == "" {
		remoteIP = r.RemoteAddr
	}
	if remoteIP != "" && k.isTrustedProxy(remoteIP) {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			parts := strings.Split(xff, ",")
			// nearest untrusted hop: last entry the proxy appended
			if candidate := parseIP(strings.TrimSpace(parts[len(parts)-1])); candidate != "" {
				return candidate
			}
		}
		if realIP := parseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); realIP != "" {
			return realIP
		}
	}
	if remoteIP == "" {
		return "unknown"
	}
	return remoteIP
}

func (k *ClientKeyer) isTrustedProxy(ipStr string) bool {
	if k == nil || len(k.TrustedProxies) == 0 {
		return false
	}
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return false
	}
	for _, cidr := range k.TrustedProxies {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func parseIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if net.ParseIP(addr) != nil {
		return addr
	}
	return ""
}

// Middleware charges the named bucket before the request proceeds. The
// deny message is deliberately generic: which budget tripped is not
// disclosed.
func Middleware(set *Set, keyer *ClientKeyer, bucket string, onDeny func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := set.Admit(bucket, keyer.Key(r))
			if !decision.Allowed {
				if onDeny != nil {
					onDeny()
				}
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter(time.Now().UTC())))
				httpx.Error(w, http.StatusTooManyRequests, "too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
