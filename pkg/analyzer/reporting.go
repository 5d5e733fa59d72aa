package analyzer

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dnstapir/fla/pkg/annotate"
	"github.com/dnstapir/fla/pkg/report"
)

const (
	reportTopClients    = 20
	reportTopCached     = 20
	reportTopForwarded  = 20
	reportTopUpstreams  = 10
	reportTopQueryTypes = 10

	annotatorTopDomains       = 10
	annotatorTopClients       = 5
	annotatorTopClientDomains = 5
)

// buildReportData assembles everything the HTML template needs from the
// loaded state.
func (la *logAnalyzer) buildReportData(st *engineState) report.Data {
	todayKey := dateKey(la.runNow)
	today := st.peek(todayKey)
	if today == nil {
		// No traffic today still renders a (zeroed) report.
		today = newDailySnapshot(todayKey)
	}

	// History covers today plus the prior days, oldest first.
	historyKeys := make([]string, 0, la.cfg.HistoryDays)
	for i := la.cfg.HistoryDays - 1; i >= 0; i-- {
		historyKeys = append(historyKeys, dateKey(la.runNow.AddDate(0, 0, -i)))
	}
	history := make([]*DailySnapshot, 0, len(historyKeys))
	for _, key := range historyKeys {
		history = append(history, st.peek(key))
	}
	merged := mergeSnapshots(history)

	data := report.Data{
		GeneratedAt: la.runNow,
		Date:        todayKey,
		HistoryDays: la.cfg.HistoryDays,

		TotalQueries:           today.TotalQueries,
		UniqueDomains:          int64(len(today.DomainCounts)),
		UniqueClients:          int64(len(today.ClientIPCounts)),
		EstimatedUniqueDomains: int64(today.UniqueDomainsEstimate()),
		EstimatedUniqueClients: int64(today.UniqueClientsEstimate()),
		CacheHits:              today.CacheHits,
		CacheMisses:            today.CacheMisses,
		CacheHitRate:           today.CacheHitRate(),
		ExcludedCount:          today.ExcludedCount,
		IgnoredCount:           today.IgnoredCount,

		TopDomains:          rankedItems(topCounts(today.DomainCounts, la.cfg.TopDomains), today.TotalQueries),
		TopClients:          rankedItems(topCounts(today.ClientIPCounts, reportTopClients), today.TotalQueries),
		TopQueryTypes:       rankedItems(topCounts(today.QueryTypeCounts, reportTopQueryTypes), today.TotalQueries),
		TopCachedDomains:    rankedItems(topCounts(today.CachedDomainCounts, reportTopCached), 0),
		TopForwardedDomains: rankedItems(topCounts(today.ForwardedDomainCounts, reportTopForwarded), 0),
		UpstreamServers:     rankedItems(topCounts(today.UpstreamServerCounts, reportTopUpstreams), today.CacheMisses),

		HourlyBars: hourlyBars(today),

		HistoryTotalQueries: merged.TotalQueries,
		HistoryCacheHitRate: merged.cacheHitRate(),
		HistoryTopDomains:   rankedItems(topCounts(merged.DomainCounts, la.cfg.TopDomains), merged.TotalQueries),
	}

	for _, key := range historyKeys {
		snap := st.peek(key)
		if snap == nil {
			continue
		}
		data.HistoryDayRows = append(data.HistoryDayRows, report.DayRow{
			Date:          snap.Date,
			TotalQueries:  snap.TotalQueries,
			CacheHitRate:  snap.CacheHitRate(),
			UniqueDomains: int64(len(snap.DomainCounts)),
		})
	}

	return data
}

func rankedItems(counts []rankedCount, total int64) []report.RankedItem {
	items := make([]report.RankedItem, 0, len(counts))
	for i, c := range counts {
		item := report.RankedItem{Rank: i + 1, Name: c.Name, Count: c.Count}
		if total > 0 {
			item.Pct = float64(c.Count) / float64(total) * 100
		}
		items = append(items, item)
	}
	return items
}

func hourlyBars(snap *DailySnapshot) []report.HourBar {
	var max int64
	for _, count := range snap.HourlyQueryCounts {
		if count > max {
			max = count
		}
	}

	bars := make([]report.HourBar, 24)
	for hour := range bars {
		bar := report.HourBar{
			Hour:    hour,
			Queries: snap.HourlyQueryCounts[hour],
			Hits:    snap.HourlyCacheStats[hour].Hits,
			Misses:  snap.HourlyCacheStats[hour].Misses,
		}
		if max > 0 {
			bar.HeightPct = int(bar.Queries * 100 / max)
			if bar.Queries > 0 && bar.HeightPct < 2 {
				bar.HeightPct = 2
			}
		}
		bars[hour] = bar
	}
	return bars
}

// annotateReport asks the annotator service for a natural language read of
// the day and attaches it to the report data. Failure of any kind only
// logs a warning, the report is written either way.
func (la *logAnalyzer) annotateReport(ctx context.Context, st *engineState, data *report.Data) {
	if la.cfg.AnnotatorURL == "" {
		return
	}

	token := ""
	if la.cfg.AnnotatorTokenFile != "" {
		raw, err := os.ReadFile(filepath.Clean(la.cfg.AnnotatorTokenFile))
		if err != nil {
			la.log.Warn("unable to read annotator token, skipping annotation", "error", err)
			return
		}
		token = strings.TrimSpace(string(raw))
	}

	annotator := annotate.New(la.log, la.cfg.AnnotatorURL, la.cfg.AnnotatorModel, token, la.cfg.AnnotatorTimeout)

	ctx, cancel := context.WithTimeout(ctx, la.cfg.AnnotatorTimeout)
	defer cancel()

	text, err := annotator.Annotate(ctx, la.buildAnnotatorSummary(st))
	if err != nil {
		la.log.Warn("annotation unavailable", "error", err)
		return
	}

	data.Annotation = text
	data.AnnotationOK = true
}

// buildAnnotatorSummary condenses today into the compact JSON document the
// annotator receives.
func (la *logAnalyzer) buildAnnotatorSummary(st *engineState) annotate.Summary {
	todayKey := dateKey(la.runNow)
	today := st.peek(todayKey)
	if today == nil {
		today = newDailySnapshot(todayKey)
	}
	yesterday := st.peek(dateKey(la.runNow.AddDate(0, 0, -1)))

	hour := la.runNow.Hour()
	summary := annotate.Summary{
		Date:               today.Date,
		GeneratedAt:        la.runNow,
		TotalQueries:       today.TotalQueries,
		QueriesLast24h:     trailing24hQueries(today, yesterday, la.runNow),
		CurrentHour:        hour,
		CurrentHourQueries: today.HourlyQueryCounts[hour],
		CacheHitRate:       today.CacheHitRate(),
	}
	if hour > 0 {
		summary.PreviousHourQueries = today.HourlyQueryCounts[hour-1]
	} else if yesterday != nil {
		summary.PreviousHourQueries = yesterday.HourlyQueryCounts[23]
	}

	// Per-hour averages over the preceding history days. Today is
	// partial and stays out of the average.
	var histDays int64
	var histSums [24]int64
	for i := 1; i <= la.cfg.HistoryDays; i++ {
		snap := st.peek(dateKey(la.runNow.AddDate(0, 0, -i)))
		if snap == nil {
			continue
		}
		histDays++
		for h, count := range snap.HourlyQueryCounts {
			histSums[h] += count
		}
	}
	if histDays > 0 {
		for h, sum := range histSums {
			summary.HourlyAverages[h] = math.Round(float64(sum)/float64(histDays)*10) / 10
		}
	}

	for _, item := range topCounts(today.DomainCounts, annotatorTopDomains) {
		summary.TopDomains = append(summary.TopDomains, annotate.DomainCount{Domain: item.Name, Count: item.Count})
	}

	for _, client := range topCounts(today.ClientIPCounts, annotatorTopClients) {
		stat := annotate.ClientStat{Client: client.Name, Count: client.Count}
		for _, item := range topCounts(today.ClientDomainCounts[client.Name], annotatorTopClientDomains) {
			stat.TopDomains = append(stat.TopDomains, annotate.DomainCount{Domain: item.Name, Count: item.Count})
		}
		summary.TopClients = append(summary.TopClients, stat)
	}

	return summary
}
