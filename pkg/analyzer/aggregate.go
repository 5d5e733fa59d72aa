package analyzer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/go-hll"
)

// Counter map guards: when a map passes its max the smallest entries are
// dropped down to the compacted size. Exact counts for heavy hitters
// survive, the long tail only lives in the HLL sketches.
const (
	maxCounterKeys       = 100000
	compactedCounterKeys = 50000

	maxClientDomainKeys       = 2000
	compactedClientDomainKeys = 1000
)

// Hashing for the HLL sketches uses a fixed seed: the sketches are
// persisted across runs so the same client must hash the same every run.
const sketchHashSeed = 0x666c6121

var sketchSettingsOnce sync.Once

// initSketchSettings sets package level defaults for HLL sketches. Must be
// called before any snapshot is created or loaded.
func initSketchSettings() error {
	var err error
	sketchSettingsOnce.Do(func() {
		err = hll.Defaults(hll.Settings{
			Log2m:             10,
			Regwidth:          4,
			ExplicitThreshold: 0,
			SparseEnabled:     true,
		})
	})
	return err
}

// hourlyCache is the cache hit/miss split for one hour of the day.
type hourlyCache struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// DailySnapshot holds everything aggregated for one calendar day. It is
// stored as one JSON value per day in the state store.
type DailySnapshot struct {
	Date         string `json:"date"`
	TotalQueries int64  `json:"total_queries"`

	DomainCounts    map[string]int64 `json:"domain_counts"`
	QueryTypeCounts map[string]int64 `json:"query_type_counts"`
	ClientIPCounts  map[string]int64 `json:"client_ip_counts"`

	HourlyQueryCounts [24]int64 `json:"hourly_query_counts"`

	CacheHits             int64            `json:"cache_hits"`
	CacheMisses           int64            `json:"cache_misses"`
	CachedDomainCounts    map[string]int64 `json:"cached_domain_counts"`
	ForwardedDomainCounts map[string]int64 `json:"forwarded_domain_counts"`
	UpstreamServerCounts  map[string]int64 `json:"upstream_server_counts"`

	HourlyCacheStats [24]hourlyCache `json:"hourly_cache_stats"`

	ExcludedCount int64 `json:"excluded_count"`
	IgnoredCount  int64 `json:"ignored_count"`

	// Per-client breakdown of queried domains, used by the report and the
	// annotator summary.
	ClientDomainCounts map[string]map[string]int64 `json:"client_domain_counts"`

	// Serialized HLL sketches estimating unique clients/domains for the
	// day. Unlike the counter maps these survive compaction unclipped.
	ClientHLLBytes []byte `json:"client_hll,omitempty"`
	DomainHLLBytes []byte `json:"domain_hll,omitempty"`

	LastUpdate time.Time `json:"last_update"`

	clientHLL hll.Hll
	domainHLL hll.Hll
}

func newDailySnapshot(date string) *DailySnapshot {
	return &DailySnapshot{
		Date:                  date,
		DomainCounts:          map[string]int64{},
		QueryTypeCounts:       map[string]int64{},
		ClientIPCounts:        map[string]int64{},
		CachedDomainCounts:    map[string]int64{},
		ForwardedDomainCounts: map[string]int64{},
		UpstreamServerCounts:  map[string]int64{},
		ClientDomainCounts:    map[string]map[string]int64{},
	}
}

// hydrateSketches rebuilds the live HLL values from their serialized form
// after a snapshot has been loaded from the store.
func (ds *DailySnapshot) hydrateSketches() error {
	if len(ds.ClientHLLBytes) > 0 {
		sketch, err := hll.FromBytes(ds.ClientHLLBytes)
		if err != nil {
			return fmt.Errorf("hydrateSketches: client sketch: %w", err)
		}
		ds.clientHLL = sketch
	}
	if len(ds.DomainHLLBytes) > 0 {
		sketch, err := hll.FromBytes(ds.DomainHLLBytes)
		if err != nil {
			return fmt.Errorf("hydrateSketches: domain sketch: %w", err)
		}
		ds.domainHLL = sketch
	}
	return nil
}

// serializeSketches refreshes the byte fields prior to JSON encoding.
func (ds *DailySnapshot) serializeSketches() {
	ds.ClientHLLBytes = ds.clientHLL.ToBytes()
	ds.DomainHLLBytes = ds.domainHLL.ToBytes()
}

// CacheHitRate returns the percentage of cache lookups answered locally.
// A day without any cache activity reports 0 rather than NaN.
func (ds *DailySnapshot) CacheHitRate() float64 {
	total := ds.CacheHits + ds.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(ds.CacheHits) / float64(total) * 100
}

func (ds *DailySnapshot) UniqueClientsEstimate() uint64 {
	return ds.clientHLL.Cardinality()
}

func (ds *DailySnapshot) UniqueDomainsEstimate() uint64 {
	return ds.domainHLL.Cardinality()
}

func dateKey(ts time.Time) string {
	return ts.Format(time.DateOnly)
}

type aggregateOutcome uint8

const (
	outcomeCounted aggregateOutcome = iota
	outcomeIgnored
	outcomeExcluded
)

// aggregateEvent files one event into the snapshot of its day. Ignore
// rules are applied first, then the reverse lookup exclusion, both only
// move their counter.
func (la *logAnalyzer) aggregateEvent(st *engineState, ev event) aggregateOutcome {
	snap := st.snapshotFor(dateKey(ev.timestamp))
	snap.LastUpdate = la.runNow

	if la.isIgnored(ev) {
		snap.IgnoredCount++
		return outcomeIgnored
	}

	if !la.cfg.IncludeReverseLookups && isReverseLookupDomain(ev.domain) {
		snap.ExcludedCount++
		return outcomeExcluded
	}

	hour := ev.timestamp.Hour()

	switch ev.kind {
	case eventQuery:
		client := la.clientLabel(ev.clientIP)

		snap.TotalQueries++
		snap.DomainCounts[ev.domain]++
		snap.QueryTypeCounts[ev.queryType]++
		snap.ClientIPCounts[client]++
		snap.HourlyQueryCounts[hour]++

		perClient := snap.ClientDomainCounts[client]
		if perClient == nil {
			perClient = map[string]int64{}
			snap.ClientDomainCounts[client] = perClient
		}
		perClient[ev.domain]++

		snap.clientHLL.AddRaw(la.sketchHash(client))
		snap.domainHLL.AddRaw(la.sketchHash(ev.domain))

		compactCounters(snap.DomainCounts, maxCounterKeys, compactedCounterKeys)
		compactCounters(snap.ClientIPCounts, maxCounterKeys, compactedCounterKeys)
		compactCounters(perClient, maxClientDomainKeys, compactedClientDomainKeys)
		compactClientDomains(snap)
	case eventCacheHit:
		snap.CacheHits++
		snap.CachedDomainCounts[ev.domain]++
		snap.HourlyCacheStats[hour].Hits++

		compactCounters(snap.CachedDomainCounts, maxCounterKeys, compactedCounterKeys)
	case eventForward:
		snap.CacheMisses++
		snap.ForwardedDomainCounts[ev.domain]++
		snap.UpstreamServerCounts[ev.upstream]++
		snap.HourlyCacheStats[hour].Misses++

		compactCounters(snap.ForwardedDomainCounts, maxCounterKeys, compactedCounterKeys)
	}

	return outcomeCounted
}

// sketchHash hashes a string for use in the HLL sketches.
func (la *logAnalyzer) sketchHash(s string) uint64 {
	la.sketchHasher.Write([]byte(s)) // #nosec G104 -- Write() on hash.Hash never returns an error (https://pkg.go.dev/hash#Hash)
	sum := la.sketchHasher.Sum64()
	la.sketchHasher.Reset()
	return sum
}

type rankedCount struct {
	Name  string
	Count int64
}

// topCounts returns the n biggest entries of a counter map, n <= 0 meaning
// all of them. Ties are broken by name so output is stable between runs.
func topCounts(m map[string]int64, n int) []rankedCount {
	ranked := make([]rankedCount, 0, len(m))
	for name, count := range m {
		ranked = append(ranked, rankedCount{Name: name, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Name < ranked[j].Name
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func compactCounters(m map[string]int64, maxKeys int, keep int) {
	if len(m) <= maxKeys {
		return
	}
	for _, dropped := range topCounts(m, 0)[keep:] {
		delete(m, dropped.Name)
	}
}

// compactClientDomains bounds the outer client map of the per-client
// domain breakdown, keeping the clients with the most queries.
func compactClientDomains(snap *DailySnapshot) {
	if len(snap.ClientDomainCounts) <= maxCounterKeys {
		return
	}
	totals := make(map[string]int64, len(snap.ClientDomainCounts))
	for client, domains := range snap.ClientDomainCounts {
		for _, count := range domains {
			totals[client] += count
		}
	}
	for _, dropped := range topCounts(totals, 0)[compactedCounterKeys:] {
		delete(snap.ClientDomainCounts, dropped.Name)
	}
}

// mergedStats accumulates several day snapshots for the trailing-days
// report sections.
type mergedStats struct {
	Days           int
	TotalQueries   int64
	CacheHits      int64
	CacheMisses    int64
	DomainCounts   map[string]int64
	ClientCounts   map[string]int64
	UpstreamCounts map[string]int64
}

func mergeSnapshots(snaps []*DailySnapshot) mergedStats {
	merged := mergedStats{
		DomainCounts:   map[string]int64{},
		ClientCounts:   map[string]int64{},
		UpstreamCounts: map[string]int64{},
	}
	for _, snap := range snaps {
		if snap == nil {
			continue
		}
		merged.Days++
		merged.TotalQueries += snap.TotalQueries
		merged.CacheHits += snap.CacheHits
		merged.CacheMisses += snap.CacheMisses
		for domain, count := range snap.DomainCounts {
			merged.DomainCounts[domain] += count
		}
		for client, count := range snap.ClientIPCounts {
			merged.ClientCounts[client] += count
		}
		for upstream, count := range snap.UpstreamServerCounts {
			merged.UpstreamCounts[upstream] += count
		}
	}
	return merged
}

func (ms mergedStats) cacheHitRate() float64 {
	total := ms.CacheHits + ms.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(ms.CacheHits) / float64(total) * 100
}

// trailing24hQueries sums hourly buckets over the last 24 hours: today up
// to and including the current hour, plus yesterday's hours after it.
func trailing24hQueries(today *DailySnapshot, yesterday *DailySnapshot, now time.Time) int64 {
	var total int64
	if today != nil {
		for hour := 0; hour <= now.Hour(); hour++ {
			total += today.HourlyQueryCounts[hour]
		}
	}
	if yesterday != nil {
		for hour := now.Hour() + 1; hour < 24; hour++ {
			total += yesterday.HourlyQueryCounts[hour]
		}
	}
	return total
}
