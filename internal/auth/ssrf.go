package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"mindia/internal/apperror"
)

// SSRFPolicy selects how a failed DNS resolution is treated. Upload-time URL
// validation fails open (logs and proceeds, since the fetch itself will
// simply fail later if the host is unreachable); webhook delivery fails
// closed, since a webhook target the validator cannot resolve must never be
// dialed.
type SSRFPolicy int

const (
	// PolicyUpload logs a DNS failure and allows the caller to proceed.
	PolicyUpload SSRFPolicy = iota
	// PolicyWebhook hard-rejects a URL the validator cannot resolve.
	PolicyWebhook
)

// Resolver abstracts DNS resolution so tests can substitute a fixed
// hostname -> IP mapping instead of hitting the network.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// SSRFValidator rejects URLs that resolve to addresses a server-side fetch
// must never reach: loopback, link-local, private, unique-local, and
// multicast ranges, plus IPv4-mapped IPv6 forms of the same.
type SSRFValidator struct {
	resolver       Resolver
	allowedSchemes map[string]struct{}
}

// NewSSRFValidator builds a validator using net.DefaultResolver.
func NewSSRFValidator() *SSRFValidator {
	return &SSRFValidator{
		resolver:       net.DefaultResolver,
		allowedSchemes: map[string]struct{}{"http": {}, "https": {}},
	}
}

// WithResolver overrides the DNS resolver, used by tests.
func (v *SSRFValidator) WithResolver(r Resolver) *SSRFValidator {
	v.resolver = r
	return v
}

// Validate checks rawURL against the SSRF policy. policy determines the
// outcome when DNS resolution itself fails.
func (v *SSRFValidator) Validate(ctx context.Context, rawURL string, policy SSRFPolicy) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return apperror.InvalidInput("malformed URL")
	}
	if _, ok := v.allowedSchemes[strings.ToLower(parsed.Scheme)]; !ok {
		return apperror.InvalidInput("URL scheme must be http or https")
	}
	host := parsed.Hostname()
	if host == "" {
		return apperror.InvalidInput("URL is missing a host")
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isDisallowedAddr(addr) {
			return apperror.Forbidden("URL resolves to a disallowed network range")
		}
		return nil
	}

	addrs, err := v.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		if policy == PolicyWebhook {
			return apperror.Wrap(apperror.CodeForbidden, "failed to resolve webhook host", err)
		}
		// Upload-time validation fails open: the download itself will
		// surface any real connectivity problem.
		slog.Warn("SSRF check could not resolve upload host, proceeding", "host", host, "error", err)
		return nil
	}
	if len(addrs) == 0 {
		if policy == PolicyWebhook {
			return apperror.Forbidden("webhook host did not resolve to any address")
		}
		slog.Warn("SSRF check found no addresses for upload host, proceeding", "host", host)
		return nil
	}
	for _, a := range addrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		if isDisallowedAddr(addr) {
			return apperror.Forbidden(fmt.Sprintf("host %s resolves to a disallowed network range", host))
		}
	}
	return nil
}

func isDisallowedAddr(addr netip.Addr) bool {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	switch {
	case addr.IsLoopback():
		return true
	case addr.IsLinkLocalUnicast():
		return true
	case addr.IsLinkLocalMulticast():
		return true
	case addr.IsMulticast():
		return true
	case addr.IsPrivate():
		return true
	case addr.IsUnspecified():
		return true
	}
	return false
}
