// Package types defines the shared domain model for the Pulse aggregation
// engine: tenants, metric definitions, time-series points, goal records, and
// the window/trend value objects passed between the period calculator, the
// metric evaluator, and the ETL runner.
package types

import (
	"strings"
	"time"
)

// Tenant is an isolated customer. Each tenant owns its metric definitions and
// a dedicated warehouse namespace; nothing computed for one tenant may read
// or write another tenant's data.
type Tenant struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Slug         string       `json:"slug"`
	DatabaseName string       `json:"database_name"`
	Status       TenantStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Schema returns the tenant's warehouse namespace. When no explicit database
// name was configured at onboarding, it is derived from the slug.
func (t *Tenant) Schema() string {
	if t.DatabaseName != "" {
		return t.DatabaseName
	}
	return strings.ToLower(t.Slug) + "_db"
}

// MetricDefinition declares how one KPI is computed from a tenant's data.
// Definitions are authored in the configuration UI and are read-only to the
// engine.
//
// Exactly one computation form is used per definition:
//   - ValueExpression aggregated over SourceRelation (optionally filtered), or
//   - RawQuery, a full query override returning a single numeric value.
type MetricDefinition struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	Key      string         `json:"key"`
	Name     string         `json:"name"`
	Category MetricCategory `json:"category"`
	Format   ValueFormat    `json:"format"`

	// YearlyGoal is the annual target; nil when the tenant has not set one.
	YearlyGoal *float64  `json:"yearly_goal,omitempty"`
	Direction  Direction `json:"direction"`

	SourceRelation  string `json:"source_relation,omitempty"`
	ValueExpression string `json:"value_expression,omitempty"`
	DateColumn      string `json:"date_column,omitempty"`
	FilterPredicate string `json:"filter_predicate,omitempty"`
	RawQuery        string `json:"raw_query,omitempty"`

	Status           MetricStatus `json:"status"`
	LastCalculatedAt *time.Time   `json:"last_calculated_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// UsesRawQuery reports whether the definition computes its value through the
// full query override rather than the expression/relation pair.
func (d *MetricDefinition) UsesRawQuery() bool {
	return d.RawQuery != ""
}

// PeriodWindow is a concrete [Start, End] time range for one granularity,
// always recomputed relative to "now" at evaluation time. It is never
// persisted; the window slides forward as time passes.
type PeriodWindow struct {
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
	Type  PeriodType `json:"type"`
}

// Contains reports whether t falls inside the window (inclusive bounds).
func (w PeriodWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// TimeSeriesPoint is one persisted dashboard data point. The logical key is
// (tenant, metric key, timestamp, period type, is-goal); re-population must
// upsert on that key, never duplicate.
type TimeSeriesPoint struct {
	TenantID   string     `json:"tenant_id"`
	MetricKey  string     `json:"metric_key"`
	Timestamp  time.Time  `json:"timestamp"`
	PeriodType PeriodType `json:"period_type"`
	IsGoal     bool       `json:"is_goal"`
	Value      float64    `json:"value"`
	RunningSum float64    `json:"running_sum"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// GoalRecord is an externally managed per-period target. The engine only
// reads these; a record applies when its granularity matches the period
// being evaluated and its validity window contains the evaluation time.
type GoalRecord struct {
	TenantID    string     `json:"tenant_id"`
	MetricKey   string     `json:"metric_key"`
	Granularity PeriodType `json:"granularity"`
	TargetValue float64    `json:"target_value"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
}

// TrendPoint is one grouped historical bucket in a metric's chart series.
// Goal stays zero unless a goal series was separately populated.
type TrendPoint struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Value float64   `json:"value"`
	Goal  float64   `json:"goal"`
}

// Contains reports whether t falls inside the bucket (inclusive bounds).
func (b TrendPoint) Contains(t time.Time) bool {
	return !t.Before(b.Start) && !t.After(b.End)
}
