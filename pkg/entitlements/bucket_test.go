package entitlements_test

import (
	"testing"
	"time"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

func TestBucketKey(t *testing.T) {
	tests := []struct {
		name   string
		period entitlements.PeriodType
		now    time.Time
		want   string
	}{
		{
			"daily UTC date",
			entitlements.PeriodDaily,
			time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC),
			"2025-01-14",
		},
		{
			"monthly UTC month",
			entitlements.PeriodMonthly,
			time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC),
			"2025-01",
		},
		{
			// 23:30 in UTC+9 is already the next UTC-day's evening before;
			// 2025-01-15 08:30 JST is 2025-01-14 23:30 UTC.
			"daily key ignores client timezone",
			entitlements.PeriodDaily,
			time.Date(2025, 1, 15, 8, 30, 0, 0, time.FixedZone("JST", 9*3600)),
			"2025-01-14",
		},
		{
			"monthly key ignores client timezone",
			entitlements.PeriodMonthly,
			time.Date(2025, 2, 1, 8, 30, 0, 0, time.FixedZone("JST", 9*3600)),
			"2025-01",
		},
		{
			"daily boundary second",
			entitlements.PeriodDaily,
			time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
			"2025-01-15",
		},
		{
			"last instant of day",
			entitlements.PeriodDaily,
			time.Date(2025, 1, 14, 23, 59, 59, 999999999, time.UTC),
			"2025-01-14",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entitlements.BucketKey(tt.period, tt.now); got != tt.want {
				t.Errorf("BucketKey(%s, %v) = %q, want %q", tt.period, tt.now, got, tt.want)
			}
		})
	}
}

func TestNextReset(t *testing.T) {
	tests := []struct {
		name   string
		period entitlements.PeriodType
		now    time.Time
		want   time.Time
	}{
		{
			"daily to next midnight",
			entitlements.PeriodDaily,
			time.Date(2025, 1, 14, 22, 30, 0, 0, time.UTC),
			time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			"daily across month end",
			entitlements.PeriodDaily,
			time.Date(2025, 1, 31, 5, 0, 0, 0, time.UTC),
			time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"monthly to first of next month",
			entitlements.PeriodMonthly,
			time.Date(2025, 1, 14, 22, 30, 0, 0, time.UTC),
			time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"monthly across year end",
			entitlements.PeriodMonthly,
			time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"non-UTC input normalized",
			entitlements.PeriodDaily,
			time.Date(2025, 1, 15, 8, 30, 0, 0, time.FixedZone("JST", 9*3600)),
			time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := entitlements.NextReset(tt.period, tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("NextReset(%s, %v) = %v, want %v", tt.period, tt.now, got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("NextReset returned non-UTC location %v", got.Location())
			}
		})
	}
}
