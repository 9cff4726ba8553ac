package metrics

import (
	"fmt"
	"regexp"
	"strings"

	"pulse/internal/types"
	"pulse/internal/warehouse"
)

// Metric definitions arrive from the tenant configuration UI and are treated
// as trusted configuration, matching the product's original behavior. The
// builder still narrows the surface: relation and column names must pass the
// identifier allowlist, window bounds are always bound parameters, and
// expressions and predicates are rejected when they contain statement
// separators or quoting that has no business in an aggregate fragment.

// exprPattern accepts aggregate fragments such as "SUM(amount)",
// "COUNT(*) * 12" or "SUM(amount) - SUM(refund)". No quotes, no semicolons.
var exprPattern = regexp.MustCompile(`^[A-Za-z0-9_\s()*+\-/.,%]+$`)

// crossSchemaPattern spots explicit namespace qualification in raw query
// overrides, e.g. "globex_db.orders". Raw queries run with search_path
// pinned to the tenant schema; the only way left to address another tenant
// is an explicit qualifier, so those are refused unless they name the
// tenant's own schema.
var crossSchemaPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*_db)\s*\.`)

// safeFragment reports whether an expression or predicate fragment is free
// of statement separators, comments, and string quoting.
func safeFragment(s string) bool {
	return !strings.ContainsAny(s, `;'"`) && !strings.Contains(s, "--")
}

// BuildValueQuery produces the period-to-date aggregate query for a
// definition: the value expression over the source relation, constrained by
// the optional filter predicate and the window on the date column. The
// window bounds are returned as bound parameters.
func BuildValueQuery(def *types.MetricDefinition, w types.PeriodWindow) (string, []any, error) {
	rel, err := warehouse.QuoteIdentifier(def.SourceRelation)
	if err != nil {
		return "", nil, err
	}
	dateCol, err := warehouse.QuoteIdentifier(def.DateColumn)
	if err != nil {
		return "", nil, err
	}
	expr := strings.TrimSpace(def.ValueExpression)
	if expr == "" || !exprPattern.MatchString(expr) || !safeFragment(expr) {
		return "", nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidIdentifier,
			"value expression is not a safe aggregate fragment",
			nil,
			map[string]any{"metric_key": def.Key},
		)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT COALESCE(%s, 0) FROM %s WHERE %s BETWEEN $1 AND $2", expr, rel, dateCol)
	if def.FilterPredicate != "" {
		if !safeFragment(def.FilterPredicate) {
			return "", nil, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidIdentifier,
				"filter predicate contains disallowed tokens",
				nil,
				map[string]any{"metric_key": def.Key},
			)
		}
		fmt.Fprintf(&sb, " AND (%s)", def.FilterPredicate)
	}

	return sb.String(), []any{w.Start, w.End}, nil
}

// BuildTrendQuery produces the grouped historical query feeding the trend
// chart: the value expression bucketed with date_trunc over the lookback
// range. The truncation unit follows the granularity (day, week, month,
// quarter, year); lookback bounds are bound parameters.
func BuildTrendQuery(def *types.MetricDefinition, p types.PeriodType) (string, error) {
	rel, err := warehouse.QuoteIdentifier(def.SourceRelation)
	if err != nil {
		return "", err
	}
	dateCol, err := warehouse.QuoteIdentifier(def.DateColumn)
	if err != nil {
		return "", err
	}
	expr := strings.TrimSpace(def.ValueExpression)
	if expr == "" || !exprPattern.MatchString(expr) || !safeFragment(expr) {
		return "", types.NewAppError(types.ErrCodeValidationInvalidIdentifier, "value expression is not a safe aggregate fragment", nil)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb,
		"SELECT date_trunc('%s', %s)::timestamptz AS bucket, COALESCE(%s, 0) FROM %s WHERE %s BETWEEN $1 AND $2",
		truncUnit(p), dateCol, expr, rel, dateCol,
	)
	if def.FilterPredicate != "" {
		if !safeFragment(def.FilterPredicate) {
			return "", types.NewAppError(types.ErrCodeValidationInvalidIdentifier, "filter predicate contains disallowed tokens", nil)
		}
		fmt.Fprintf(&sb, " AND (%s)", def.FilterPredicate)
	}
	sb.WriteString(" GROUP BY 1 ORDER BY 1")

	return sb.String(), nil
}

// ValidateRawQuery checks a raw-query override before execution. The query
// itself is trusted tenant configuration; the check only refuses statement
// chaining, search_path tampering, and explicit qualification of another
// tenant's namespace.
func ValidateRawQuery(def *types.MetricDefinition, tenant *types.Tenant) error {
	q := def.RawQuery
	lower := strings.ToLower(q)
	if strings.Contains(q, ";") || strings.Contains(q, "--") || strings.Contains(lower, "search_path") {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidIdentifier,
			"raw query contains disallowed tokens",
			nil,
			map[string]any{"metric_key": def.Key},
		)
	}
	for _, m := range crossSchemaPattern.FindAllStringSubmatch(lower, -1) {
		if m[1] != strings.ToLower(tenant.Schema()) {
			return types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidIdentifier,
				"raw query addresses a foreign namespace",
				nil,
				map[string]any{"metric_key": def.Key, "namespace": m[1]},
			)
		}
	}
	return nil
}

// truncUnit maps a period type to its date_trunc unit.
func truncUnit(p types.PeriodType) string {
	switch p {
	case types.PeriodDaily:
		return "day"
	case types.PeriodWeekly:
		return "week"
	case types.PeriodMonthly:
		return "month"
	case types.PeriodQuarterly:
		return "quarter"
	default:
		return "year"
	}
}
