package entitlements

import "time"

// BucketKey derives the deterministic bucket identifier for a period class
// at the given instant. Keys are always computed in UTC so that client
// timezones cannot shift quota windows: daily buckets are keyed by calendar
// date ("2006-01-02"), monthly buckets by calendar month ("2006-01").
func BucketKey(period PeriodType, now time.Time) string {
	t := now.UTC()
	switch period {
	case PeriodMonthly:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// NextReset returns the UTC start of the bucket that supersedes the current
// one: midnight of the next day for daily periods, the first of the next
// month for monthly periods.
func NextReset(period PeriodType, now time.Time) time.Time {
	t := now.UTC()
	switch period {
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
	}
}
