package scan

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

const fetchUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var blockedPrefixStrings = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var blockedPrefixes = func() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(blockedPrefixStrings))
	for _, s := range blockedPrefixStrings {
		if p, err := netip.ParsePrefix(s); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}()

// HTTPFetcher fetches pages with per-host rate limiting, capped retries
// with exponential backoff and jitter, and SSRF-safe dialing.
type HTTPFetcher struct {
	Client     *http.Client
	Limiter    *HostLimiter
	MaxRetries int
	MaxBody    int64
}

func NewHTTPFetcher() *HTTPFetcher {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           safeDialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &HTTPFetcher{
		Client: &http.Client{
			Timeout:       30 * time.Second,
			Transport:     transport,
			CheckRedirect: safeCheckRedirect,
		},
		Limiter:    NewHostLimiter(1.0, 1),
		MaxRetries: 3,
		MaxBody:    10 << 20,
	}
}

// Fetch returns the page body as text. All failure modes, network errors
// and non-2xx statuses alike, come back wrapped in ErrSourceUnavailable.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, int, error) {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx, rawURL); err != nil {
			return "", 0, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, rawURL, err)
		}
	}

	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= f.MaxRetries; attempt++ {
		if attempt > 0 {
			// 0.5s, 1s, 2s plus jitter between attempts.
			backoff := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			jitter := time.Duration(rand.Intn(250)) * time.Millisecond
			select {
			case <-ctx.Done():
				return "", 0, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, rawURL, ctx.Err())
			case <-time.After(backoff + jitter):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, rawURL, err)
		}
		req.Header.Set("User-Agent", fetchUserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-GB,en;q=0.7")

		resp, err := f.Client.Do(req)
		if err != nil {
			lastErr = err
			if shouldRetry(err, 0) {
				continue
			}
			return "", 0, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, rawURL, err)
		}

		lastStatus = resp.StatusCode
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			body, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBody))
			resp.Body.Close()
			if err != nil {
				return "", resp.StatusCode, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, rawURL, err)
			}
			return string(body), resp.StatusCode, nil
		}

		resp.Body.Close()
		if shouldRetry(nil, resp.StatusCode) {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return "", resp.StatusCode, fmt.Errorf("%w: %s: status %d", ErrSourceUnavailable, rawURL, resp.StatusCode)
	}

	return "", lastStatus, fmt.Errorf("%w: %s: retries exhausted: %v", ErrSourceUnavailable, rawURL, lastErr)
}

func shouldRetry(err error, statusCode int) bool {
	if err != nil {
		if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
			return true
		}
		return false
	}
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// safeDialContext resolves the target first and refuses private
// addresses.
func safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("blocked private IP: %s", ip)
		}
	}
	return d.DialContext(ctx, network, addr)
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	if addr, ok := netip.AddrFromSlice(ip); ok {
		for _, prefix := range blockedPrefixes {
			if prefix.Contains(addr.Unmap()) {
				return true
			}
		}
	}
	return false
}

func safeCheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if req.URL == nil || req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect blocked")
	}
	host := req.URL.Hostname()
	if host == "" || strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".local") {
		return fmt.Errorf("redirect to internal host blocked")
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return err
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("redirect to private IP blocked: %s", ip)
		}
	}
	return nil
}
