/*
Package safeurl provides the two pure URL operations and the one
network-touching safety check every other component routes through
before a URL may be fetched or stored: Normalize and AssertNotSSRF.
*/
package safeurl

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/doctree/scribe/pkg/failure"
)

const maxURLLength = 2000

// Normalize lowercases scheme and host, strips the fragment, strips a
// trailing slash except at the root, and truncates overlong URLs. Path
// case, query, and userinfo are preserved. A URL whose scheme is not
// http, https, or empty is returned unchanged.
//
// Normalize is idempotent: Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return truncate(raw)
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return truncate(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}

	return truncate(u.String())
}

func truncate(s string) string {
	if len(s) <= maxURLLength {
		return s
	}
	// Truncation is a lossy, warn-only fallback for pathological inputs;
	// the caller is expected to log this at the call site.
	return s[:maxURLLength]
}

// SSRFError reports that a URL resolved to a target the crawler must not
// reach. It is always fatal: a blocked destination is never retried.
type SSRFError struct {
	Host    string
	Message string
}

func (e *SSRFError) Error() string                { return fmt.Sprintf("unsafe target %q: %s", e.Host, e.Message) }
func (e *SSRFError) Severity() failure.Severity    { return failure.SeverityFatal }
func (e *SSRFError) IsRetryable() bool             { return false }

var _ failure.ClassifiedError = (*SSRFError)(nil)

var blockedRanges = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// AssertNotSSRF resolves the URL's hostname and fails with *SSRFError when
// the resolved address falls inside a loopback, RFC-1918, or link-local
// range. DNS failure is silently permitted through: the downstream fetch
// will fail naturally, and this resolver check has an inherent TOCTOU
// window regardless.
func AssertNotSSRF(ctx context.Context, raw string) failure.ClassifiedError {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	host := u.Hostname()
	if host == "" {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(host, ip)
	}

	resolver := net.Resolver{}
	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil
	}
	for _, addr := range ips {
		if cerr := checkIP(host, addr.IP); cerr != nil {
			return cerr
		}
	}
	return nil
}

func checkIP(host string, ip net.IP) failure.ClassifiedError {
	for _, r := range blockedRanges {
		if r.Contains(ip) {
			return &SSRFError{Host: host, Message: fmt.Sprintf("resolves to blocked range %s", r.String())}
		}
	}
	return nil
}
