package types

// PeriodType identifies the granularity of an aggregation window.
type PeriodType string

const (
	PeriodDaily     PeriodType = "daily"
	PeriodWeekly    PeriodType = "weekly"
	PeriodMonthly   PeriodType = "monthly"
	PeriodQuarterly PeriodType = "quarterly"
	PeriodYearly    PeriodType = "yearly"
)

// AllPeriods lists every supported granularity in ascending window size.
// Used by validators and by the scheduler when a job omits its period set.
var AllPeriods = []PeriodType{
	PeriodDaily,
	PeriodWeekly,
	PeriodMonthly,
	PeriodQuarterly,
	PeriodYearly,
}

// Valid reports whether p is one of the supported granularities.
func (p PeriodType) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodYearly:
		return true
	}
	return false
}

// YearFraction returns the divisor used to prorate a yearly goal into a
// target for one period of this granularity: 365 for daily, 52 for weekly,
// 12 for monthly, 4 for quarterly, 1 for yearly.
func (p PeriodType) YearFraction() float64 {
	switch p {
	case PeriodDaily:
		return 365
	case PeriodWeekly:
		return 52
	case PeriodMonthly:
		return 12
	case PeriodQuarterly:
		return 4
	default:
		return 1
	}
}

// MetricCategory groups KPIs for display and for the fallback goal heuristic.
type MetricCategory string

const (
	CategoryRevenue     MetricCategory = "revenue"
	CategoryProfit      MetricCategory = "profit"
	CategoryCustomer    MetricCategory = "customer"
	CategoryOperational MetricCategory = "operational"
)

// ValueFormat controls how the dashboard renders a metric's value.
type ValueFormat string

const (
	FormatCurrency   ValueFormat = "currency"
	FormatPercentage ValueFormat = "percentage"
	FormatNumber     ValueFormat = "number"
)

// MetricStatus is the lifecycle state of a metric definition. Only active
// definitions are evaluated by the ETL runner.
type MetricStatus string

const (
	MetricStatusActive   MetricStatus = "active"
	MetricStatusDraft    MetricStatus = "draft"
	MetricStatusArchived MetricStatus = "archived"
)

// TenantStatus is the lifecycle state of a tenant. Jobs are seeded only for
// active tenants at process start.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// Direction indicates whether a larger metric value is better. It does not
// affect aggregation; the dashboard uses it to color goal progress.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)
