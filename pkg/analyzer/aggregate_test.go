package analyzer

import (
	"fmt"
	"testing"
	"time"
)

func TestAggregateEventQuery(t *testing.T) {
	now := time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)
	la := newTestAnalyzer(t, Config{}, now)
	st := newEngineState()

	ev := event{
		kind:      eventQuery,
		timestamp: time.Date(2025, time.March, 10, 13, 15, 0, 0, time.UTC),
		queryType: "A",
		domain:    "example.com",
		clientIP:  "10.0.0.2",
	}
	if outcome := la.aggregateEvent(st, ev); outcome != outcomeCounted {
		t.Fatalf("have: %d, want: %d", outcome, outcomeCounted)
	}

	snap := st.peek("2025-03-10")
	if snap == nil {
		t.Fatal("expected a snapshot for the event day")
	}
	if snap.TotalQueries != 1 {
		t.Fatalf("have: %d, want: %d", snap.TotalQueries, 1)
	}
	if snap.DomainCounts["example.com"] != 1 {
		t.Fatalf("have: %d, want: %d", snap.DomainCounts["example.com"], 1)
	}
	if snap.QueryTypeCounts["A"] != 1 {
		t.Fatalf("have: %d, want: %d", snap.QueryTypeCounts["A"], 1)
	}
	if snap.ClientIPCounts["10.0.0.2"] != 1 {
		t.Fatalf("have: %d, want: %d", snap.ClientIPCounts["10.0.0.2"], 1)
	}
	if snap.HourlyQueryCounts[13] != 1 {
		t.Fatalf("have: %d, want: %d", snap.HourlyQueryCounts[13], 1)
	}
	if snap.ClientDomainCounts["10.0.0.2"]["example.com"] != 1 {
		t.Fatalf("have: %d, want: %d", snap.ClientDomainCounts["10.0.0.2"]["example.com"], 1)
	}
	if !snap.LastUpdate.Equal(now) {
		t.Fatalf("have: %s, want: %s", snap.LastUpdate, now)
	}

	if snap.UniqueClientsEstimate() == 0 {
		t.Fatal("expected client sketch to track the client")
	}
	if snap.UniqueDomainsEstimate() == 0 {
		t.Fatal("expected domain sketch to track the domain")
	}

	// Repeating the same logical query bumps the counters but leaves the
	// unique estimates unchanged.
	clientEstimate := snap.UniqueClientsEstimate()
	domainEstimate := snap.UniqueDomainsEstimate()
	la.aggregateEvent(st, ev)
	if snap.TotalQueries != 2 {
		t.Fatalf("have: %d, want: %d", snap.TotalQueries, 2)
	}
	if snap.UniqueClientsEstimate() != clientEstimate {
		t.Fatalf("have: %d, want: %d", snap.UniqueClientsEstimate(), clientEstimate)
	}
	if snap.UniqueDomainsEstimate() != domainEstimate {
		t.Fatalf("have: %d, want: %d", snap.UniqueDomainsEstimate(), domainEstimate)
	}
}

func TestAggregateEventCacheHitAndForward(t *testing.T) {
	now := time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)
	la := newTestAnalyzer(t, Config{}, now)
	st := newEngineState()

	ts := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	la.aggregateEvent(st, event{kind: eventCacheHit, timestamp: ts, domain: "example.com"})
	la.aggregateEvent(st, event{kind: eventForward, timestamp: ts, domain: "other.org", upstream: "8.8.8.8#53"})

	snap := st.peek("2025-03-10")
	if snap.CacheHits != 1 {
		t.Fatalf("have: %d, want: %d", snap.CacheHits, 1)
	}
	if snap.CacheMisses != 1 {
		t.Fatalf("have: %d, want: %d", snap.CacheMisses, 1)
	}
	if snap.CachedDomainCounts["example.com"] != 1 {
		t.Fatalf("have: %d, want: %d", snap.CachedDomainCounts["example.com"], 1)
	}
	if snap.ForwardedDomainCounts["other.org"] != 1 {
		t.Fatalf("have: %d, want: %d", snap.ForwardedDomainCounts["other.org"], 1)
	}
	if snap.UpstreamServerCounts["8.8.8.8#53"] != 1 {
		t.Fatalf("have: %d, want: %d", snap.UpstreamServerCounts["8.8.8.8#53"], 1)
	}
	if snap.HourlyCacheStats[9].Hits != 1 {
		t.Fatalf("have: %d, want: %d", snap.HourlyCacheStats[9].Hits, 1)
	}
	if snap.HourlyCacheStats[9].Misses != 1 {
		t.Fatalf("have: %d, want: %d", snap.HourlyCacheStats[9].Misses, 1)
	}

	// Cache events do not count as queries.
	if snap.TotalQueries != 0 {
		t.Fatalf("have: %d, want: %d", snap.TotalQueries, 0)
	}
	if snap.CacheHitRate() != 50.0 {
		t.Fatalf("have: %f, want: %f", snap.CacheHitRate(), 50.0)
	}
}

func TestCacheHitRate(t *testing.T) {
	snap := newDailySnapshot("2025-03-10")

	if snap.CacheHitRate() != 0 {
		t.Fatalf("have: %f, want: %f", snap.CacheHitRate(), 0.0)
	}

	snap.CacheHits = 3
	snap.CacheMisses = 1
	if snap.CacheHitRate() != 75.0 {
		t.Fatalf("have: %f, want: %f", snap.CacheHitRate(), 75.0)
	}
}

func TestAggregateEventReverseLookupExcluded(t *testing.T) {
	now := time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)
	ev := event{
		kind:      eventQuery,
		timestamp: now,
		queryType: "PTR",
		domain:    "4.3.2.1.in-addr.arpa",
		clientIP:  "10.0.0.2",
	}

	la := newTestAnalyzer(t, Config{}, now)
	st := newEngineState()
	if outcome := la.aggregateEvent(st, ev); outcome != outcomeExcluded {
		t.Fatalf("have: %d, want: %d", outcome, outcomeExcluded)
	}
	snap := st.peek("2025-03-10")
	if snap.ExcludedCount != 1 {
		t.Fatalf("have: %d, want: %d", snap.ExcludedCount, 1)
	}
	if snap.TotalQueries != 0 {
		t.Fatalf("have: %d, want: %d", snap.TotalQueries, 0)
	}
	if len(snap.DomainCounts) != 0 {
		t.Fatalf("have: %d, want: %d", len(snap.DomainCounts), 0)
	}

	// With reverse lookups included the same event counts normally.
	la = newTestAnalyzer(t, Config{IncludeReverseLookups: true}, now)
	st = newEngineState()
	if outcome := la.aggregateEvent(st, ev); outcome != outcomeCounted {
		t.Fatalf("have: %d, want: %d", outcome, outcomeCounted)
	}
	snap = st.peek("2025-03-10")
	if snap.DomainCounts["4.3.2.1.in-addr.arpa"] != 1 {
		t.Fatalf("have: %d, want: %d", snap.DomainCounts["4.3.2.1.in-addr.arpa"], 1)
	}
	if snap.ExcludedCount != 0 {
		t.Fatalf("have: %d, want: %d", snap.ExcludedCount, 0)
	}
}

func TestTopCounts(t *testing.T) {
	m := map[string]int64{
		"a.example": 3,
		"b.example": 9,
		"c.example": 3,
		"d.example": 1,
	}

	top := topCounts(m, 2)
	if len(top) != 2 {
		t.Fatalf("have: %d, want: %d", len(top), 2)
	}
	if top[0].Name != "b.example" || top[0].Count != 9 {
		t.Fatalf("have: %s=%d, want: %s=%d", top[0].Name, top[0].Count, "b.example", 9)
	}
	// Equal counts are ordered by name so ranking is stable.
	if top[1].Name != "a.example" {
		t.Fatalf("have: %s, want: %s", top[1].Name, "a.example")
	}

	all := topCounts(m, 0)
	if len(all) != 4 {
		t.Fatalf("have: %d, want: %d", len(all), 4)
	}
	if all[3].Name != "d.example" {
		t.Fatalf("have: %s, want: %s", all[3].Name, "d.example")
	}
}

func TestCompactCounters(t *testing.T) {
	m := map[string]int64{}
	for i := 0; i < 12; i++ {
		m[fmt.Sprintf("d%02d.example", i)] = int64(i + 1)
	}

	compactCounters(m, 12, 5)
	if len(m) != 12 {
		t.Fatalf("have: %d, want: %d", len(m), 12)
	}

	compactCounters(m, 10, 5)
	if len(m) != 5 {
		t.Fatalf("have: %d, want: %d", len(m), 5)
	}
	if m["d11.example"] != 12 {
		t.Fatalf("have: %d, want: %d", m["d11.example"], 12)
	}
	if _, ok := m["d00.example"]; ok {
		t.Fatal("expected smallest entry to be dropped")
	}
}

func TestMergeSnapshots(t *testing.T) {
	a := newDailySnapshot("2025-03-09")
	a.TotalQueries = 10
	a.CacheHits = 6
	a.CacheMisses = 2
	a.DomainCounts["example.com"] = 7
	a.DomainCounts["other.org"] = 3
	a.ClientIPCounts["10.0.0.2"] = 10
	a.UpstreamServerCounts["8.8.8.8"] = 2

	b := newDailySnapshot("2025-03-10")
	b.TotalQueries = 5
	b.CacheHits = 1
	b.CacheMisses = 1
	b.DomainCounts["example.com"] = 5
	b.ClientIPCounts["10.0.0.3"] = 5
	b.UpstreamServerCounts["8.8.8.8"] = 1

	merged := mergeSnapshots([]*DailySnapshot{a, nil, b})
	if merged.Days != 2 {
		t.Fatalf("have: %d, want: %d", merged.Days, 2)
	}
	if merged.TotalQueries != 15 {
		t.Fatalf("have: %d, want: %d", merged.TotalQueries, 15)
	}
	if merged.DomainCounts["example.com"] != 12 {
		t.Fatalf("have: %d, want: %d", merged.DomainCounts["example.com"], 12)
	}
	if merged.UpstreamCounts["8.8.8.8"] != 3 {
		t.Fatalf("have: %d, want: %d", merged.UpstreamCounts["8.8.8.8"], 3)
	}
	if merged.cacheHitRate() != 70.0 {
		t.Fatalf("have: %f, want: %f", merged.cacheHitRate(), 70.0)
	}

	empty := mergeSnapshots([]*DailySnapshot{nil, nil})
	if empty.Days != 0 {
		t.Fatalf("have: %d, want: %d", empty.Days, 0)
	}
	if empty.cacheHitRate() != 0 {
		t.Fatalf("have: %f, want: %f", empty.cacheHitRate(), 0.0)
	}
}

func TestTrailing24hQueries(t *testing.T) {
	now := time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)

	today := newDailySnapshot("2025-03-10")
	today.HourlyQueryCounts[3] = 2
	today.HourlyQueryCounts[14] = 5

	yesterday := newDailySnapshot("2025-03-09")
	yesterday.HourlyQueryCounts[10] = 100
	yesterday.HourlyQueryCounts[20] = 7

	// Today through hour 14 plus yesterday after hour 14.
	if have := trailing24hQueries(today, yesterday, now); have != 14 {
		t.Fatalf("have: %d, want: %d", have, 14)
	}
	if have := trailing24hQueries(today, nil, now); have != 7 {
		t.Fatalf("have: %d, want: %d", have, 7)
	}
	if have := trailing24hQueries(nil, yesterday, now); have != 7 {
		t.Fatalf("have: %d, want: %d", have, 7)
	}
	if have := trailing24hQueries(nil, nil, now); have != 0 {
		t.Fatalf("have: %d, want: %d", have, 0)
	}
}

func TestSketchSerializeRoundTrip(t *testing.T) {
	now := time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)
	la := newTestAnalyzer(t, Config{}, now)
	st := newEngineState()

	for i := 0; i < 5; i++ {
		la.aggregateEvent(st, event{
			kind:      eventQuery,
			timestamp: now,
			queryType: "A",
			domain:    fmt.Sprintf("host%d.example", i),
			clientIP:  "10.0.0.2",
		})
	}

	snap := st.peek("2025-03-10")
	snap.serializeSketches()
	if len(snap.ClientHLLBytes) == 0 {
		t.Fatal("expected serialized client sketch bytes")
	}
	if len(snap.DomainHLLBytes) == 0 {
		t.Fatal("expected serialized domain sketch bytes")
	}

	restored := newDailySnapshot(snap.Date)
	restored.ClientHLLBytes = snap.ClientHLLBytes
	restored.DomainHLLBytes = snap.DomainHLLBytes
	if err := restored.hydrateSketches(); err != nil {
		t.Fatalf("unable to hydrate sketches: %s", err)
	}
	if restored.UniqueClientsEstimate() != snap.UniqueClientsEstimate() {
		t.Fatalf("have: %d, want: %d", restored.UniqueClientsEstimate(), snap.UniqueClientsEstimate())
	}
	if restored.UniqueDomainsEstimate() != snap.UniqueDomainsEstimate() {
		t.Fatalf("have: %d, want: %d", restored.UniqueDomainsEstimate(), snap.UniqueDomainsEstimate())
	}
}

func TestHydrateSketchesCorrupt(t *testing.T) {
	if err := initSketchSettings(); err != nil {
		t.Fatalf("unable to set HLL defaults: %s", err)
	}

	snap := newDailySnapshot("2025-03-10")
	snap.ClientHLLBytes = []byte{0xff, 0x01, 0x02}
	if err := snap.hydrateSketches(); err == nil {
		t.Fatal("expected error for corrupt sketch bytes")
	}
}

func TestDateKey(t *testing.T) {
	ts := time.Date(2025, time.March, 9, 23, 59, 59, 0, time.UTC)
	if have := dateKey(ts); have != "2025-03-09" {
		t.Fatalf("have: %s, want: %s", have, "2025-03-09")
	}
}
