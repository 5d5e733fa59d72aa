package analyzer

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smhanov/dawg"
)

func writeIgnoredClientsFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ignored-clients.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("unable to write ignored clients file: %s", err)
	}
	return path
}

func TestLoadIgnoredClients(t *testing.T) {
	path := writeIgnoredClientsFile(t, `# office equipment
192.168.1.10
10.0.0.0/24

2001:db8::1
`)

	ipset, err := loadIgnoredClients(path)
	if err != nil {
		t.Fatalf("unable to load ignored clients: %s", err)
	}

	tests := []struct {
		addr string
		want bool
	}{
		{addr: "192.168.1.10", want: true},
		{addr: "192.168.1.11", want: false},
		{addr: "10.0.0.55", want: true},
		{addr: "10.0.1.55", want: false},
		{addr: "2001:db8::1", want: true},
		{addr: "2001:db8::2", want: false},
	}
	for _, test := range tests {
		if have := ipset.Contains(netip.MustParseAddr(test.addr)); have != test.want {
			t.Fatalf("%s, have: %t, want: %t", test.addr, have, test.want)
		}
	}
}

func TestLoadIgnoredClientsBadLine(t *testing.T) {
	path := writeIgnoredClientsFile(t, "192.168.1.10\nnot-an-ip\n")

	if _, err := loadIgnoredClients(path); err == nil {
		t.Fatal("expected error for unparseable address")
	}
}

func TestIsIgnoredClient(t *testing.T) {
	path := writeIgnoredClientsFile(t, "192.168.1.10\n10.0.0.0/24\n")

	now := time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)
	la := newTestAnalyzer(t, Config{IgnoredClientIPsFile: path}, now)

	tests := []struct {
		clientIP string
		want     bool
	}{
		{clientIP: "192.168.1.10", want: true},
		{clientIP: "192.168.1.11", want: false},
		{clientIP: "10.0.0.200", want: true},
		// 4-in-6 addresses are unmapped before the lookup.
		{clientIP: "::ffff:192.168.1.10", want: true},
		// dnsmasq can log non-IP sources, those are never ignored here.
		{clientIP: "localhost", want: false},
	}
	for _, test := range tests {
		if have := la.isIgnoredClient(test.clientIP); have != test.want {
			t.Fatalf("%s, have: %t, want: %t", test.clientIP, have, test.want)
		}
	}
}

func testDomainFinder(t *testing.T) dawg.Finder {
	t.Helper()

	// dawg builders require words in alphabetical order, the leading dot
	// sorts before any letter.
	dBuilder := dawg.New()
	dBuilder.Add(".doubleclick.net.")
	dBuilder.Add("tracker.example.com.")
	return dBuilder.Finish()
}

func TestIsIgnoredDomain(t *testing.T) {
	now := time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)
	la := newTestAnalyzer(t, Config{}, now)
	la.ignoredDomains = testDomainFinder(t)

	tests := []struct {
		domain string
		want   bool
	}{
		// Entries without a leading dot match that name only.
		{domain: "tracker.example.com", want: true},
		{domain: "Tracker.Example.COM.", want: true},
		{domain: "sub.tracker.example.com", want: false},
		{domain: "nottracker.example.com", want: false},
		// Leading dot entries match any name below them but not the apex.
		{domain: "ads.doubleclick.net", want: true},
		{domain: "a.b.doubleclick.net", want: true},
		{domain: "doubleclick.net", want: false},
		{domain: "example.com", want: false},
	}
	for _, test := range tests {
		if have := la.isIgnoredDomain(test.domain); have != test.want {
			t.Fatalf("%s, have: %t, want: %t", test.domain, have, test.want)
		}
	}
}

func TestIsIgnoredDomainWithoutList(t *testing.T) {
	now := time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)
	la := newTestAnalyzer(t, Config{}, now)

	if la.isIgnoredDomain("tracker.example.com") {
		t.Fatal("no list configured, nothing should be ignored")
	}
}

func TestIsIgnored(t *testing.T) {
	path := writeIgnoredClientsFile(t, "192.168.1.10\n")

	now := time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)
	la := newTestAnalyzer(t, Config{IgnoredClientIPsFile: path}, now)
	la.ignoredDomains = testDomainFinder(t)

	tests := []struct {
		name string
		ev   event
		want bool
	}{
		{
			name: "ignored client",
			ev:   event{kind: eventQuery, domain: "clean.example", clientIP: "192.168.1.10"},
			want: true,
		},
		{
			name: "ignored domain on cache hit",
			ev:   event{kind: eventCacheHit, domain: "ads.doubleclick.net"},
			want: true,
		},
		{
			name: "clean forward",
			ev:   event{kind: eventForward, domain: "clean.example", upstream: "8.8.8.8"},
			want: false,
		},
		{
			name: "clean query",
			ev:   event{kind: eventQuery, domain: "clean.example", clientIP: "10.0.0.2"},
			want: false,
		},
	}
	for _, test := range tests {
		if have := la.isIgnored(test.ev); have != test.want {
			t.Fatalf("%s, have: %t, want: %t", test.name, have, test.want)
		}
	}
}

func TestClientLabel(t *testing.T) {
	now := time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)

	plain := newTestAnalyzer(t, Config{}, now)
	if have := plain.clientLabel("198.51.100.7"); have != "198.51.100.7" {
		t.Fatalf("have: %s, want: %s", have, "198.51.100.7")
	}

	cfg := Config{
		PseudonymiseClientIPs: true,
		CryptopanKey:          "mekmitasdigoat",
		CryptopanKeySalt:      "aabbccddeeffgghh",
	}
	pseudo := newTestAnalyzer(t, cfg, now)

	label := pseudo.clientLabel("198.51.100.7")
	if label == "198.51.100.7" {
		t.Fatal("expected pseudonymised client to differ from the real address")
	}
	if _, err := netip.ParseAddr(label); err != nil {
		t.Fatalf("unable to parse pseudonymised address %s: %s", label, err)
	}

	// The same key and salt must map an address the same way every run,
	// otherwise per-client aggregates would not line up between runs.
	again := newTestAnalyzer(t, cfg, now)
	if have := again.clientLabel("198.51.100.7"); have != label {
		t.Fatalf("have: %s, want: %s", have, label)
	}

	if have := pseudo.clientLabel("localhost"); have != "localhost" {
		t.Fatalf("have: %s, want: %s", have, "localhost")
	}
}
