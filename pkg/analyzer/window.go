package analyzer

import "time"

// Admission rules for resolved event timestamps. An event is aggregated
// when it falls in any of:
//
//  1. today, up to now
//  2. the last two hours before midnight, while the current run still
//     happens before 02:00 (lines written just before rollover, analysed
//     just after)
//  3. the seven days before today (backfill after downtime)
//  4. at most ten minutes ahead of now, but never into tomorrow (the
//     forwarder clock running slightly fast)
const (
	backfillDays    = 7
	lateNightCutoff = 2 * time.Hour
	lateNightGrace  = 2 * time.Hour
	maxClockSkew    = 10 * time.Minute
)

func startOfDay(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
}

func inAnalysisWindow(ts time.Time, now time.Time) bool {
	dayStart := startOfDay(now)

	// Today, up to now.
	if !ts.Before(dayStart) && !ts.After(now) {
		return true
	}

	// Just before the last midnight, while we are still in the early hours
	// of the following day.
	if now.Sub(dayStart) < lateNightCutoff && ts.Before(dayStart) && dayStart.Sub(ts) <= lateNightGrace {
		return true
	}

	// Backfill window covering the previous days.
	if ts.Before(dayStart) && !ts.Before(dayStart.AddDate(0, 0, -backfillDays)) {
		return true
	}

	// Clock skew allowance, capped so an event is never filed under
	// tomorrow.
	if ts.After(now) && ts.Sub(now) <= maxClockSkew && ts.Before(dayStart.AddDate(0, 0, 1)) {
		return true
	}

	return false
}
