package analyzer

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/miekg/dns"
	"go4.org/netipx"
)

const dawgNotFound = -1

// loadIgnoredClients parses a newline separated list of IPv4/IPv6
// addresses or CIDRs. Empty lines and '#' comments are skipped.
func loadIgnoredClients(path string) (*netipx.IPSet, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("loadIgnoredClients: unable to read file: %w", err)
	}

	var builder netipx.IPSetBuilder
	for lineNum, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, "/") {
			prefix, err := netip.ParsePrefix(line)
			if err != nil {
				return nil, fmt.Errorf("loadIgnoredClients: line %d: %w", lineNum+1, err)
			}
			builder.AddPrefix(prefix)
		} else {
			addr, err := netip.ParseAddr(line)
			if err != nil {
				return nil, fmt.Errorf("loadIgnoredClients: line %d: %w", lineNum+1, err)
			}
			builder.Add(addr)
		}
	}

	ipset, err := builder.IPSet()
	if err != nil {
		return nil, fmt.Errorf("loadIgnoredClients: unable to build IP set: %w", err)
	}

	return ipset, nil
}

func (la *logAnalyzer) isIgnoredClient(clientIP string) bool {
	if la.ignoredClients == nil {
		return false
	}
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false
	}
	return la.ignoredClients.Contains(addr.Unmap())
}

// isIgnoredDomain checks the DAWG for an exact match first, then for
// suffix matches: for the name "www.example.com." we will check for the
// strings ".example.com." and ".com.".
func (la *logAnalyzer) isIgnoredDomain(domain string) bool {
	if la.ignoredDomains == nil {
		return false
	}

	name := dns.CanonicalName(domain)

	if la.ignoredDomains.IndexOf(name) != dawgNotFound {
		return true
	}

	for index, end := dns.NextLabel(name, 0); !end; index, end = dns.NextLabel(name, index) {
		if la.ignoredDomains.IndexOf(name[index-1:]) != dawgNotFound {
			return true
		}
	}

	return false
}

func (la *logAnalyzer) isIgnored(ev event) bool {
	if ev.kind == eventQuery && la.isIgnoredClient(ev.clientIP) {
		return true
	}
	return la.isIgnoredDomain(ev.domain)
}

// clientLabel returns the client address as stored in aggregates, run
// through Crypto-PAn when pseudonymisation is enabled. dnsmasq can log
// non-IP sources here (e.g. "localhost"), those are stored as-is.
func (la *logAnalyzer) clientLabel(clientIP string) string {
	if la.cryptopan == nil {
		return clientIP
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return clientIP
	}
	return la.cryptopan.Anonymize(ip).String()
}
