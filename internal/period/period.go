// Package period implements the calendar math for the aggregation engine:
// mapping (granularity, now) to a concrete window, and producing the bucket
// grid used for trend charts. Everything here is pure; callers inject "now"
// so behavior is deterministic under test.
//
// All windows are computed in UTC.
package period

import (
	"fmt"
	"time"

	"pulse/internal/types"
)

// Trend lookback per granularity: how many buckets the chart shows.
const (
	DailyLookbackDays     = 30
	WeeklyLookbackWeeks   = 12
	MonthlyLookbackMonths = 12
	QuarterlyLookbackQtrs = 8 // 2 years
	YearlyLookbackYears   = 5
)

// Window returns the aggregation window for the given granularity containing
// (or ending at) now.
//
//   - daily: the calendar day containing now.
//   - weekly: the trailing 7 days ending today (start = now - 6 days).
//   - monthly, quarterly, yearly: the full calendar period containing now.
//
// Note that the calendar windows deliberately extend past now into the
// remainder of the period: a monthly window on March 15 runs through
// March 31. The dashboard compares period-to-date actuals against the full
// period goal, matching the product's observed behavior. Window start is
// always <= end.
func Window(p types.PeriodType, now time.Time) types.PeriodWindow {
	now = now.UTC()
	day := midnight(now)

	var start, end time.Time
	switch p {
	case types.PeriodDaily:
		start = day
		end = endOfDay(day)
	case types.PeriodWeekly:
		start = day.AddDate(0, 0, -6)
		end = endOfDay(day)
	case types.PeriodMonthly:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = endOfDay(start.AddDate(0, 1, -1))
	case types.PeriodQuarterly:
		qm := quarterStartMonth(now.Month())
		start = time.Date(now.Year(), qm, 1, 0, 0, 0, 0, time.UTC)
		end = endOfDay(start.AddDate(0, 3, -1))
	case types.PeriodYearly:
		start = time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		end = endOfDay(time.Date(now.Year(), 12, 31, 0, 0, 0, 0, time.UTC))
	default:
		// Unknown granularity is a programmer error upstream; fall back to
		// the daily window rather than returning a zero range.
		start = day
		end = endOfDay(day)
	}

	return types.PeriodWindow{Start: start, End: end, Type: p}
}

// Buckets returns the trend bucket grid for the given granularity, oldest
// first, ending with the bucket containing now. Bucket sizes and lookbacks:
//
//	daily     day     30 days
//	weekly    week    12 weeks
//	monthly   month   12 months
//	quarterly quarter 2 years
//	yearly    year    5 years
func Buckets(p types.PeriodType, now time.Time) []types.TrendPoint {
	now = now.UTC()
	day := midnight(now)

	switch p {
	case types.PeriodDaily:
		buckets := make([]types.TrendPoint, 0, DailyLookbackDays)
		for i := DailyLookbackDays - 1; i >= 0; i-- {
			d := day.AddDate(0, 0, -i)
			buckets = append(buckets, types.TrendPoint{
				Label: d.Format("Jan 2"),
				Start: d,
				End:   endOfDay(d),
			})
		}
		return buckets

	case types.PeriodWeekly:
		buckets := make([]types.TrendPoint, 0, WeeklyLookbackWeeks)
		for i := WeeklyLookbackWeeks - 1; i >= 0; i-- {
			end := day.AddDate(0, 0, -7*i)
			start := end.AddDate(0, 0, -6)
			buckets = append(buckets, types.TrendPoint{
				Label: "Week of " + start.Format("Jan 2"),
				Start: start,
				End:   endOfDay(end),
			})
		}
		return buckets

	case types.PeriodMonthly:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		buckets := make([]types.TrendPoint, 0, MonthlyLookbackMonths)
		for i := MonthlyLookbackMonths - 1; i >= 0; i-- {
			start := first.AddDate(0, -i, 0)
			buckets = append(buckets, types.TrendPoint{
				Label: start.Format("Jan 2006"),
				Start: start,
				End:   endOfDay(start.AddDate(0, 1, -1)),
			})
		}
		return buckets

	case types.PeriodQuarterly:
		qm := quarterStartMonth(now.Month())
		first := time.Date(now.Year(), qm, 1, 0, 0, 0, 0, time.UTC)
		buckets := make([]types.TrendPoint, 0, QuarterlyLookbackQtrs)
		for i := QuarterlyLookbackQtrs - 1; i >= 0; i-- {
			start := first.AddDate(0, -3*i, 0)
			buckets = append(buckets, types.TrendPoint{
				Label: fmt.Sprintf("Q%d %d", (int(start.Month())-1)/3+1, start.Year()),
				Start: start,
				End:   endOfDay(start.AddDate(0, 3, -1)),
			})
		}
		return buckets

	case types.PeriodYearly:
		buckets := make([]types.TrendPoint, 0, YearlyLookbackYears)
		for i := YearlyLookbackYears - 1; i >= 0; i-- {
			start := time.Date(now.Year()-i, 1, 1, 0, 0, 0, 0, time.UTC)
			buckets = append(buckets, types.TrendPoint{
				Label: start.Format("2006"),
				Start: start,
				End:   endOfDay(time.Date(start.Year(), 12, 31, 0, 0, 0, 0, time.UTC)),
			})
		}
		return buckets
	}

	return nil
}

// quarterStartMonth maps a month to the first month of its calendar quarter.
func quarterStartMonth(m time.Month) time.Month {
	return time.Month((int(m)-1)/3*3 + 1)
}

// midnight truncates t to the start of its UTC day.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// endOfDay returns the last instant of the UTC day containing t.
func endOfDay(t time.Time) time.Time {
	return midnight(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
