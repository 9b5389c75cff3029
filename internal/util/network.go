package util

import (
	"fmt"
	"net"
	"strings"
)

// ParseTrustedCIDRs parses the configured proxy networks. Entries are
// whitespace-trimmed and blanks skipped; a single malformed entry fails the
// whole parse so a typo never silently widens trust. An empty list yields
// nil, which trusts nothing.
func ParseTrustedCIDRs(cidrStrings []string) ([]*net.IPNet, error) {
	var networks []*net.IPNet

	for _, raw := range cidrStrings {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
		}
		networks = append(networks, network)
	}

	return networks, nil
}

func isIPInTrustedCIDRs(ip net.IP, trustedCIDRs []*net.IPNet) bool {
	for _, network := range trustedCIDRs {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// NormaliseBaseURL drops a single trailing slash so path joins stay clean.
func NormaliseBaseURL(baseURL string) string {
	if len(baseURL) > 1 {
		return strings.TrimSuffix(baseURL, "/")
	}
	return baseURL
}
