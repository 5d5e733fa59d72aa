package analyzer

import (
	"testing"
	"time"
)

func TestInAnalysisWindow(t *testing.T) {
	now := time.Date(2025, time.March, 10, 1, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"today before now", time.Date(2025, time.March, 10, 1, 0, 0, 0, time.UTC), true},
		{"start of today", time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), true},
		{"exactly now", now, true},
		{"late night grace", time.Date(2025, time.March, 9, 23, 50, 0, 0, time.UTC), true},
		{"grace boundary", time.Date(2025, time.March, 9, 22, 0, 0, 0, time.UTC), true},
		{"backfill day", time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC), true},
		{"backfill boundary", time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC), true},
		{"before backfill", time.Date(2025, time.March, 2, 12, 0, 0, 0, time.UTC), false},
		{"small clock skew", time.Date(2025, time.March, 10, 1, 35, 0, 0, time.UTC), true},
		{"skew boundary", time.Date(2025, time.March, 10, 1, 40, 0, 0, time.UTC), true},
		{"too much skew", time.Date(2025, time.March, 10, 1, 45, 0, 0, time.UTC), false},
		{"into tomorrow", time.Date(2025, time.March, 11, 0, 5, 0, 0, time.UTC), false},
	}

	for _, test := range tests {
		if have := inAnalysisWindow(test.ts, now); have != test.want {
			t.Fatalf("%s: inAnalysisWindow(%s): have: %t, want: %t", test.name, test.ts, have, test.want)
		}
	}
}

func TestInAnalysisWindowSkewNeverCrossesMidnight(t *testing.T) {
	// Five minutes of skew is normally fine, but an event stamped past
	// the next midnight must not open tomorrow's bucket early.
	now := time.Date(2025, time.March, 10, 23, 58, 0, 0, time.UTC)

	if !inAnalysisWindow(time.Date(2025, time.March, 10, 23, 59, 30, 0, time.UTC), now) {
		t.Fatal("expected slightly ahead same-day timestamp to be admitted")
	}
	if inAnalysisWindow(time.Date(2025, time.March, 11, 0, 1, 0, 0, time.UTC), now) {
		t.Fatal("expected timestamp past midnight to be rejected")
	}
}

func TestStartOfDay(t *testing.T) {
	ts := time.Date(2025, time.March, 10, 14, 30, 45, 123, time.UTC)
	want := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

	if have := startOfDay(ts); !have.Equal(want) {
		t.Fatalf("have: %s, want: %s", have, want)
	}
}
