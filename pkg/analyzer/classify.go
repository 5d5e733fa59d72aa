package analyzer

import (
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// dnsmasq (with log-queries enabled) writes one line per event:
//
//	Dec 30 12:30:45 gw dnsmasq[123]: query[A] example.com from 192.168.1.10
//	Dec 30 12:30:45 gw dnsmasq[123]: cached example.com is 93.184.216.34
//	Dec 30 12:30:45 gw dnsmasq[123]: forwarded example.com to 8.8.8.8
//
// The leading capture group grabs the syslog timestamp, the rest skips
// whatever host/tag prefix sits between it and the event keyword. Some
// syslog daemons insert a year after the day, the optional group keeps
// it in the capture.
var (
	queryRegexp     = regexp.MustCompile(`(\w+\s+\d+(?:\s+\d{4})?\s+\d+:\d+:\d+).*?query\[(\w+)\]\s+(\S+)\s+from\s+(\S+)`)
	cachedRegexp    = regexp.MustCompile(`(\w+\s+\d+(?:\s+\d{4})?\s+\d+:\d+:\d+).*?cached\s+(\S+)\s+`)
	forwardedRegexp = regexp.MustCompile(`(\w+\s+\d+(?:\s+\d{4})?\s+\d+:\d+:\d+).*?forwarded\s+(\S+)\s+to\s+(\S+)`)
)

type eventKind uint8

const (
	eventQuery eventKind = iota
	eventCacheHit
	eventForward
)

func (k eventKind) String() string {
	switch k {
	case eventQuery:
		return "query"
	case eventCacheHit:
		return "cache_hit"
	case eventForward:
		return "forward"
	}
	return "unknown"
}

// rawEvent is a classified log line before timestamp resolution.
type rawEvent struct {
	kind      eventKind
	timestamp string
	queryType string
	domain    string
	clientIP  string
	upstream  string
}

// event is what the aggregator consumes once the timestamp has been pinned
// to a real point in time.
type event struct {
	kind      eventKind
	timestamp time.Time
	queryType string
	domain    string
	clientIP  string
	upstream  string
}

func (r rawEvent) withTime(ts time.Time) event {
	return event{
		kind:      r.kind,
		timestamp: ts,
		queryType: r.queryType,
		domain:    r.domain,
		clientIP:  r.clientIP,
		upstream:  r.upstream,
	}
}

// classifyLine matches a single log line against the known dnsmasq event
// shapes. The boolean is false for lines we do not track (replies, DHCP
// chatter, config dumps and so on).
func classifyLine(line string) (rawEvent, bool) {
	// Query lines are by far the most common so they are tried first.
	if m := queryRegexp.FindStringSubmatch(line); m != nil {
		domain := strings.ToLower(m[3])
		if _, ok := dns.IsDomainName(domain); !ok {
			return rawEvent{}, false
		}
		return rawEvent{
			kind:      eventQuery,
			timestamp: m[1],
			queryType: strings.ToUpper(m[2]),
			domain:    domain,
			clientIP:  m[4],
		}, true
	}

	if m := forwardedRegexp.FindStringSubmatch(line); m != nil {
		domain := strings.ToLower(m[2])
		if _, ok := dns.IsDomainName(domain); !ok {
			return rawEvent{}, false
		}
		return rawEvent{
			kind:      eventForward,
			timestamp: m[1],
			domain:    domain,
			upstream:  m[3],
		}, true
	}

	if m := cachedRegexp.FindStringSubmatch(line); m != nil {
		domain := strings.ToLower(m[2])
		if _, ok := dns.IsDomainName(domain); !ok {
			return rawEvent{}, false
		}
		return rawEvent{
			kind:      eventCacheHit,
			timestamp: m[1],
			domain:    domain,
		}, true
	}

	return rawEvent{}, false
}

// Reverse lookup zones say more about the resolver setup than about user
// traffic so they are kept out of the domain rankings unless asked for.
func isReverseLookupDomain(domain string) bool {
	name := dns.CanonicalName(domain)
	return strings.HasSuffix(name, ".in-addr.arpa.") || strings.HasSuffix(name, ".ip6.arpa.")
}
