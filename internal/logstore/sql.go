package logstore

import (
	"fmt"
	"strings"
)

// aggregatorSQL renders an aggregator over a column. Percentiles use
// percentile_cont so fractional values interpolate between samples.
var aggregatorSQL = map[Aggregator]func(field string) string{
	AggCount: func(string) string { return "count(*)" },
	AggAvg:   func(f string) string { return fmt.Sprintf("avg(%s)", f) },
	AggSum:   func(f string) string { return fmt.Sprintf("sum(%s)", f) },
	AggMin:   func(f string) string { return fmt.Sprintf("min(%s)", f) },
	AggMax:   func(f string) string { return fmt.Sprintf("max(%s)", f) },
	AggP50: func(f string) string {
		return fmt.Sprintf("percentile_cont(0.5) WITHIN GROUP (ORDER BY %s)", f)
	},
	AggP95: func(f string) string {
		return fmt.Sprintf("percentile_cont(0.95) WITHIN GROUP (ORDER BY %s)", f)
	},
	AggP99: func(f string) string {
		return fmt.Sprintf("percentile_cont(0.99) WITHIN GROUP (ORDER BY %s)", f)
	},
}

// buildAggregateSQL translates a validated pipeline into a SQL query with
// positional args. Group fields and aggregators come from fixed
// whitelists, so only values reach the parameter list.
func buildAggregateSQL(p Pipeline) (string, []any, error) {
	if err := p.Validate(); err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")

	cols := make([]string, 0, len(p.GroupBy)+len(p.Metrics))
	for _, g := range p.GroupBy {
		cols = append(cols, g)
	}
	for _, m := range p.Metrics {
		render := aggregatorSQL[m.Agg]
		cols = append(cols, fmt.Sprintf("%s AS %q", render(m.Field), m.Name))
	}
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM wide_events")

	where, args := buildWhere(p.Match)
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	if len(p.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(p.GroupBy, ", "))
	}

	if p.Sort != nil {
		sb.WriteString(fmt.Sprintf(" ORDER BY %q", p.Sort.By))
		if p.Sort.Desc {
			sb.WriteString(" DESC")
		}
	}

	if p.Limit > 0 {
		args = append(args, p.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	return sb.String(), args, nil
}

func buildWhere(m Match) (string, []any) {
	var conds []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(clause, len(args)))
	}

	if m.Service != "" {
		add("service = $%d", m.Service)
	}
	if m.Route != "" {
		add("route = $%d", m.Route)
	}
	if m.ErrorCode != "" {
		add("error_code = $%d", m.ErrorCode)
	}
	if m.UserRole != "" {
		add("user_role = $%d", m.UserRole)
	}
	if m.HasError && m.ErrorCode == "" {
		conds = append(conds, "(error_code <> '' OR status_code >= 500)")
	}
	if m.MinStatus > 0 {
		add("status_code >= $%d", m.MinStatus)
	}
	if m.Start != nil {
		add("ts >= $%d", *m.Start)
	}
	if m.End != nil {
		add("ts < $%d", *m.End)
	}

	return strings.Join(conds, " AND "), args
}
