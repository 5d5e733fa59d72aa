package analyzer

import "time"

// Timestamp layouts accepted in log lines, tried in order. dnsmasq writes
// the yearless syslog form, some syslog daemons are configured to also
// include the year.
var timestampLayouts = []string{
	"Jan _2 15:04:05",
	"Jan _2 2006 15:04:05",
}

// A yearless timestamp placed further than this from the current time
// (after year inference) is considered implausible.
const maxTimestampDrift = 366 * 24 * time.Hour

// normalizeTimestamp resolves the timestamp portion of a log line to a
// point in time in the local timezone. Yearless timestamps are assumed to
// be from the current year, and if that lands implausibly far from now (a
// December log read in early January) the previous year is tried instead.
//
// The second return value is false when no layout matched and the current
// time has been substituted.
func (la *logAnalyzer) normalizeTimestamp(raw string) (time.Time, bool) {
	if ts, ok := la.tsCache.Get(raw); ok {
		return ts, true
	}

	for _, layout := range timestampLayouts {
		ts, err := time.ParseInLocation(layout, raw, la.loc)
		if err != nil {
			continue
		}

		if ts.Year() == 0 {
			cand := withYear(ts, la.runNow.Year(), la.loc)
			if la.runNow.Sub(cand).Abs() > maxTimestampDrift {
				cand = withYear(ts, la.runNow.Year()-1, la.loc)
			}
			if la.runNow.Sub(cand).Abs() > maxTimestampDrift {
				continue
			}
			ts = cand
		}

		// The cache only lives for one run, which keeps it safe: resolved
		// times depend on what year it is right now.
		la.tsCache.Add(raw, ts)
		return ts, true
	}

	return la.runNow, false
}

func withYear(ts time.Time, year int, loc *time.Location) time.Time {
	return time.Date(year, ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), loc)
}
