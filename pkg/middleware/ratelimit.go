package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/logger"
)

// Limiter decides whether a client may make another request.
type Limiter interface {
	Allow(key string) bool
}

// RateLimit rejects requests with 429 once a client has used up its budget.
// Clients are keyed by their remote address. X-Forwarded-For is honoured
// only when the connection comes from one of trusted. Health endpoints are
// never limited.
func RateLimit(l Limiter, retryAfterSeconds int, trusted []netip.Prefix) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(retryAfterSeconds)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			client := clientKey(r, trusted)
			if !l.Allow(client) {
				logger.FromContext(r.Context()).Warn("rate limit exceeded", "client", client, "path", r.URL.Path)
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey returns the address the request is accounted to. Behind trusted
// proxies it walks X-Forwarded-For from the right, past every trusted hop,
// and takes the first address a proxy vouched for. Entries left of that are
// client-supplied and ignored.
func clientKey(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	remote, err := netip.ParseAddr(host)
	if err != nil || !isTrusted(remote, trusted) {
		return host
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	client := remote
	for _, hop := range slices.Backward(hops) {
		addr, err := netip.ParseAddr(strings.TrimSpace(hop))
		if err != nil {
			break
		}
		client = addr.Unmap()
		if !isTrusted(client, trusted) {
			break
		}
	}
	return client.String()
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
