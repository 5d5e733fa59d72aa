package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RankedItem is one row of a top-N table.
type RankedItem struct {
	Rank  int
	Name  string
	Count int64
	Pct   float64
}

// HourBar is one column of the hourly distribution chart.
type HourBar struct {
	Hour      int
	Queries   int64
	HeightPct int
	Hits      int64
	Misses    int64
}

// DayRow is one line of the per-day history table.
type DayRow struct {
	Date          string
	TotalQueries  int64
	CacheHitRate  float64
	UniqueDomains int64
}

// Data is everything the HTML template consumes. A zero value renders a
// valid (empty) report.
type Data struct {
	GeneratedAt time.Time
	Date        string
	HistoryDays int

	TotalQueries           int64
	UniqueDomains          int64
	UniqueClients          int64
	EstimatedUniqueDomains int64
	EstimatedUniqueClients int64
	CacheHits              int64
	CacheMisses            int64
	CacheHitRate           float64
	ExcludedCount          int64
	IgnoredCount           int64

	TopDomains          []RankedItem
	TopClients          []RankedItem
	TopQueryTypes       []RankedItem
	TopCachedDomains    []RankedItem
	TopForwardedDomains []RankedItem
	UpstreamServers     []RankedItem

	HourlyBars []HourBar

	HistoryTotalQueries int64
	HistoryCacheHitRate float64
	HistoryTopDomains   []RankedItem
	HistoryDayRows      []DayRow

	Annotation   string
	AnnotationOK bool
}

// comma renders 1234567 as "1,234,567".
func comma(n int64) string {
	s := strconv.FormatInt(n, 10)
	start := 0
	if strings.HasPrefix(s, "-") {
		start = 1
	}
	var b strings.Builder
	b.WriteString(s[:start])
	digits := s[start:]
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
		if len(digits) > lead {
			b.WriteString(",")
		}
	}
	for i := lead; i < len(digits); i += 3 {
		b.WriteString(digits[i : i+3])
		if i+3 < len(digits) {
			b.WriteString(",")
		}
	}
	return b.String()
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"comma": comma,
	"pct":   pct,
}).Parse(reportHTML))

// Render writes the HTML report for data to w.
func Render(w io.Writer, data Data) error {
	return reportTemplate.Execute(w, data)
}

// WriteFile renders the report into memory, writes it to a .tmp file next
// to path and atomically renames it into place. A half-written report is
// never visible at path.
func WriteFile(logger *slog.Logger, path string, data Data) error {
	var buf bytes.Buffer
	if err := Render(&buf, data); err != nil {
		return fmt.Errorf("WriteFile: unable to render report: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("WriteFile: unable to create report dir: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0640); err != nil {
		return fmt.Errorf("WriteFile: unable to write report: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("WriteFile: unable to move report into place: %w", err)
	}

	logger.Info("report written", "file", path, "bytes", buf.Len())

	return nil
}

const reportHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>DNS Report {{.Date}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 0; background: #f5f6f8; color: #24292f; }
.page { max-width: 1100px; margin: 0 auto; padding: 24px; }
header { background: #1f6feb; color: #fff; border-radius: 8px; padding: 20px 24px; margin-bottom: 24px; }
header h1 { margin: 0 0 4px 0; font-size: 22px; }
header p { margin: 0; opacity: 0.85; font-size: 13px; }
.cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 12px; margin-bottom: 24px; }
.card { background: #fff; border-radius: 8px; padding: 14px 16px; box-shadow: 0 1px 2px rgba(0,0,0,0.08); }
.card .value { font-size: 24px; font-weight: 600; }
.card .label { font-size: 12px; color: #57606a; margin-top: 2px; }
section { background: #fff; border-radius: 8px; padding: 16px 20px; margin-bottom: 20px; box-shadow: 0 1px 2px rgba(0,0,0,0.08); }
section h2 { margin: 0 0 12px 0; font-size: 16px; border-bottom: 1px solid #d8dee4; padding-bottom: 8px; }
table { width: 100%; border-collapse: collapse; font-size: 13px; }
th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #eaeef2; }
th { color: #57606a; font-weight: 600; }
td.num, th.num { text-align: right; font-variant-numeric: tabular-nums; }
.chart { display: flex; align-items: flex-end; gap: 3px; height: 140px; padding-top: 8px; }
.chart .bar { flex: 1; background: #1f6feb; border-radius: 2px 2px 0 0; min-height: 1px; }
.chart-labels { display: flex; gap: 3px; font-size: 10px; color: #57606a; }
.chart-labels span { flex: 1; text-align: center; }
.columns { display: grid; grid-template-columns: 1fr 1fr; gap: 20px; }
.empty { color: #57606a; font-size: 13px; }
.muted { color: #57606a; font-style: italic; }
footer { text-align: center; color: #57606a; font-size: 12px; padding: 12px 0; }
</style>
</head>
<body>
<div class="page">

<header>
<h1>DNS Forwarder Report</h1>
<p>{{.Date}} &middot; generated {{.GeneratedAt.Format "2006-01-02 15:04:05"}}</p>
</header>

<div class="cards">
<div class="card"><div class="value">{{comma .TotalQueries}}</div><div class="label">Queries today</div></div>
<div class="card"><div class="value">{{comma .UniqueDomains}}</div><div class="label">Unique domains</div></div>
<div class="card"><div class="value">{{comma .UniqueClients}}</div><div class="label">Active clients</div></div>
<div class="card"><div class="value">{{pct .CacheHitRate}}%</div><div class="label">Cache hit rate</div></div>
<div class="card"><div class="value">{{comma .CacheHits}}</div><div class="label">Cache hits</div></div>
<div class="card"><div class="value">{{comma .CacheMisses}}</div><div class="label">Forwarded (misses)</div></div>
</div>

<section>
<h2>Queries per hour</h2>
{{if .TotalQueries}}
<div class="chart">
{{range .HourlyBars}}<div class="bar" style="height: {{.HeightPct}}%" title="{{printf "%02d:00" .Hour}} {{comma .Queries}} queries, {{comma .Hits}} hits / {{comma .Misses}} misses"></div>{{end}}
</div>
<div class="chart-labels">
{{range .HourlyBars}}<span>{{.Hour}}</span>{{end}}
</div>
{{else}}
<p class="empty">No queries recorded today.</p>
{{end}}
</section>

<section>
<h2>Top domains</h2>
{{if .TopDomains}}
<table>
<tr><th>#</th><th>Domain</th><th class="num">Queries</th><th class="num">Share</th></tr>
{{range .TopDomains}}<tr><td>{{.Rank}}</td><td>{{.Name}}</td><td class="num">{{comma .Count}}</td><td class="num">{{pct .Pct}}%</td></tr>
{{end}}</table>
{{else}}
<p class="empty">No domain activity recorded today.</p>
{{end}}
{{if .ExcludedCount}}<p class="muted">{{comma .ExcludedCount}} reverse lookups excluded from the rankings.</p>{{end}}
{{if .IgnoredCount}}<p class="muted">{{comma .IgnoredCount}} events dropped by ignore rules.</p>{{end}}
</section>

<div class="columns">
<section>
<h2>Query types</h2>
{{if .TopQueryTypes}}
<table>
<tr><th>Type</th><th class="num">Queries</th><th class="num">Share</th></tr>
{{range .TopQueryTypes}}<tr><td>{{.Name}}</td><td class="num">{{comma .Count}}</td><td class="num">{{pct .Pct}}%</td></tr>
{{end}}</table>
{{else}}
<p class="empty">No data.</p>
{{end}}
</section>

<section>
<h2>Top clients</h2>
{{if .TopClients}}
<table>
<tr><th>#</th><th>Client</th><th class="num">Queries</th></tr>
{{range .TopClients}}<tr><td>{{.Rank}}</td><td>{{.Name}}</td><td class="num">{{comma .Count}}</td></tr>
{{end}}</table>
{{else}}
<p class="empty">No data.</p>
{{end}}
</section>
</div>

<div class="columns">
<section>
<h2>Most cached domains</h2>
{{if .TopCachedDomains}}
<table>
<tr><th>#</th><th>Domain</th><th class="num">Hits</th></tr>
{{range .TopCachedDomains}}<tr><td>{{.Rank}}</td><td>{{.Name}}</td><td class="num">{{comma .Count}}</td></tr>
{{end}}</table>
{{else}}
<p class="empty">No cache hits recorded today.</p>
{{end}}
</section>

<section>
<h2>Most forwarded domains</h2>
{{if .TopForwardedDomains}}
<table>
<tr><th>#</th><th>Domain</th><th class="num">Forwards</th></tr>
{{range .TopForwardedDomains}}<tr><td>{{.Rank}}</td><td>{{.Name}}</td><td class="num">{{comma .Count}}</td></tr>
{{end}}</table>
{{else}}
<p class="empty">No forwarded queries recorded today.</p>
{{end}}
</section>
</div>

<section>
<h2>Upstream servers</h2>
{{if .UpstreamServers}}
<table>
<tr><th>Server</th><th class="num">Forwards</th><th class="num">Share</th></tr>
{{range .UpstreamServers}}<tr><td>{{.Name}}</td><td class="num">{{comma .Count}}</td><td class="num">{{pct .Pct}}%</td></tr>
{{end}}</table>
{{else}}
<p class="empty">No upstream traffic recorded today.</p>
{{end}}
</section>

<section>
<h2>Last {{.HistoryDays}} days</h2>
<p>{{comma .HistoryTotalQueries}} queries, {{pct .HistoryCacheHitRate}}% cache hit rate.</p>
{{if .HistoryDayRows}}
<table>
<tr><th>Date</th><th class="num">Queries</th><th class="num">Hit rate</th><th class="num">Unique domains</th></tr>
{{range .HistoryDayRows}}<tr><td>{{.Date}}</td><td class="num">{{comma .TotalQueries}}</td><td class="num">{{pct .CacheHitRate}}%</td><td class="num">{{comma .UniqueDomains}}</td></tr>
{{end}}</table>
{{end}}
{{if .HistoryTopDomains}}
<h2>Top domains over {{.HistoryDays}} days</h2>
<table>
<tr><th>#</th><th>Domain</th><th class="num">Queries</th><th class="num">Share</th></tr>
{{range .HistoryTopDomains}}<tr><td>{{.Rank}}</td><td>{{.Name}}</td><td class="num">{{comma .Count}}</td><td class="num">{{pct .Pct}}%</td></tr>
{{end}}</table>
{{end}}
</section>

<section>
<h2>Traffic analysis</h2>
{{if .AnnotationOK}}
<p>{{.Annotation}}</p>
{{else}}
<p class="muted">AI analysis unavailable for this report.</p>
{{end}}
</section>

<footer>fla &middot; dnsmasq forwarder log analyser</footer>

</div>
</body>
</html>
`
