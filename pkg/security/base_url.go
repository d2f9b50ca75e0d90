package security

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// BaseURLPolicy configures which remote service addresses the client may talk to.
type BaseURLPolicy struct {
	// AllowHTTP permits plain HTTP URLs. HTTPS is always allowed.
	AllowHTTP bool
	// AllowLocalNetworks permits loopback/private/link-local IP targets and localhost hostnames.
	AllowLocalNetworks bool
}

// LocalDevelopmentPolicy is used when the service runs on the developer's machine.
var LocalDevelopmentPolicy = BaseURLPolicy{AllowHTTP: true, AllowLocalNetworks: true}

// ValidateBaseURL checks the service base URL against the policy and returns it
// without a trailing slash, ready to have endpoint paths appended.
//
// Bearer tokens are attached to every request sent to this URL, so embedded
// user info, query strings and fragments are rejected outright.
func ValidateBaseURL(rawURL string, policy BaseURLPolicy) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !policy.AllowHTTP {
			return nil, fmt.Errorf("http scheme is not allowed")
		}
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	if parsed.User != nil {
		return nil, fmt.Errorf("URL must not embed user credentials")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return nil, fmt.Errorf("URL must not carry a query or fragment")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return nil, fmt.Errorf("URL host is required")
	}

	if !policy.AllowLocalNetworks {
		if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
			return nil, fmt.Errorf("local hostname %q is not allowed", host)
		}
	}

	// IP literals are checked without DNS lookups.
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Zone() != "" && !policy.AllowLocalNetworks {
			return nil, fmt.Errorf("zoned IP address %q is not allowed", host)
		}
		addr = addr.Unmap()

		if addr.IsUnspecified() || addr.IsMulticast() {
			return nil, fmt.Errorf("disallowed IP address %q", host)
		}

		if !policy.AllowLocalNetworks {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
				return nil, fmt.Errorf("local network IP %q is not allowed", host)
			}
		}
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = ""
	return parsed, nil
}
