package backend

import (
	"math"

	"github.com/paulboul1013/tinytable/tsql"
)

// PlanType names the scan strategy chosen for a select.
type PlanType int

const (
	PlanFullScan PlanType = iota
	PlanIndexLookup
	PlanRangeScan
)

func (p PlanType) String() string {
	switch p {
	case PlanIndexLookup:
		return "index lookup"
	case PlanRangeScan:
		return "range scan"
	default:
		return "full scan"
	}
}

// Plan is a chosen scan strategy. Forward is always true today; backward
// scans are a reserved extension.
type Plan struct {
	Type          PlanType
	StartKey      uint32
	HasStartKey   bool
	Forward       bool
	EstimatedCost float64
	EstimatedRows uint32
}

// planQuery picks a plan for the given filter. With valid statistics a
// small cost model scores the candidate plans; otherwise a heuristic
// keys off the shape of the expression.
func planQuery(where *tsql.Expr, stats *Statistics) Plan {
	if stats != nil && stats.Valid {
		return planWithStats(where, stats)
	}
	plan := heuristicPlan(where)
	plan.EstimatedRows = estimateRows(&plan, stats, where)
	plan.EstimatedCost = estimateCost(&plan, stats, where)
	return plan
}

// heuristicPlan selects a strategy without statistics. A lone id
// predicate maps directly onto the index; in a compound expression any
// AND-connected `id = k` conjunct still permits a lookup (the full
// filter runs on the candidate row), and `id > k` / `id >= k` conjuncts
// permit a range scan.
func heuristicPlan(where *tsql.Expr) Plan {
	plan := Plan{Type: PlanFullScan, Forward: true}
	if where == nil {
		return plan
	}

	if where.IsBasic(tsql.FieldID) {
		switch where.Op {
		case tsql.OpEqual:
			plan.Type = PlanIndexLookup
			plan.StartKey = where.IDValue
			plan.HasStartKey = true
		case tsql.OpGreater, tsql.OpGreaterEqual:
			plan.Type = PlanRangeScan
			plan.StartKey = where.IDValue
			if where.Op == tsql.OpGreater {
				plan.StartKey = where.IDValue + 1
			}
			plan.HasStartKey = true
		case tsql.OpLess, tsql.OpLessEqual:
			// Scan forward from the start; the filter bounds the range.
			plan.Type = PlanRangeScan
			plan.StartKey = 0
			plan.HasStartKey = true
		}
		return plan
	}

	conjuncts := where.Conjuncts()
	for _, c := range conjuncts {
		if c.IsBasic(tsql.FieldID) && c.Op == tsql.OpEqual {
			plan.Type = PlanIndexLookup
			plan.StartKey = c.IDValue
			plan.HasStartKey = true
			return plan
		}
	}
	for _, c := range conjuncts {
		if !c.IsBasic(tsql.FieldID) {
			continue
		}
		if c.Op == tsql.OpGreater || c.Op == tsql.OpGreaterEqual {
			plan.Type = PlanRangeScan
			plan.StartKey = c.IDValue
			if c.Op == tsql.OpGreater {
				plan.StartKey = c.IDValue + 1
			}
			plan.HasStartKey = true
			return plan
		}
	}
	return plan
}

// planWithStats generates the viable candidate plans and keeps the one
// with the lowest estimated cost. Ties break toward the earlier
// candidate: index lookup, then range scan, then full scan.
func planWithStats(where *tsql.Expr, stats *Statistics) Plan {
	best := Plan{Type: PlanFullScan, Forward: true, EstimatedCost: math.MaxFloat64}

	if where == nil {
		best.EstimatedRows = stats.TotalRows
		best.EstimatedCost = estimateCost(&best, stats, where)
		return best
	}

	var candidates []Plan

	if where.IsBasic(tsql.FieldID) && where.Op == tsql.OpEqual {
		candidates = append(candidates, Plan{
			Type:        PlanIndexLookup,
			StartKey:    where.IDValue,
			HasStartKey: true,
			Forward:     true,
		})
	}

	if where.IsBasic(tsql.FieldID) {
		switch where.Op {
		case tsql.OpGreater, tsql.OpGreaterEqual:
			start := where.IDValue
			if where.Op == tsql.OpGreater {
				start = where.IDValue + 1
			}
			candidates = append(candidates, Plan{
				Type:        PlanRangeScan,
				StartKey:    start,
				HasStartKey: true,
				Forward:     true,
			})
		case tsql.OpLess, tsql.OpLessEqual:
			candidates = append(candidates, Plan{
				Type:        PlanRangeScan,
				StartKey:    0,
				HasStartKey: true,
				Forward:     true,
			})
		}
	}

	candidates = append(candidates, Plan{Type: PlanFullScan, Forward: true})

	for _, candidate := range candidates {
		candidate.EstimatedRows = estimateRows(&candidate, stats, where)
		candidate.EstimatedCost = estimateCost(&candidate, stats, where)
		if candidate.EstimatedCost < best.EstimatedCost {
			best = candidate
		}
	}
	return best
}

// estimateRows guesses the result size of a plan, assuming ids are
// uniformly distributed over [IDMin, IDMax].
func estimateRows(plan *Plan, stats *Statistics, where *tsql.Expr) uint32 {
	if stats == nil || !stats.Valid || stats.TotalRows == 0 {
		return 0
	}

	switch plan.Type {
	case PlanIndexLookup:
		return 1

	case PlanRangeScan:
		if where.IsBasic(tsql.FieldID) {
			start := stats.IDMin
			if plan.HasStartKey {
				start = plan.StartKey
			}
			end := stats.IDMax

			switch where.Op {
			case tsql.OpLess, tsql.OpLessEqual:
				value := where.IDValue
				if where.Op == tsql.OpLess {
					value--
				}
				if value < stats.IDMax {
					end = value
				}
			case tsql.OpGreater, tsql.OpGreaterEqual:
				start = plan.StartKey
			}

			if stats.IDMax > stats.IDMin && end >= start {
				ratio := float64(end-start+1) / float64(stats.IDMax-stats.IDMin+1)
				estimated := uint32(float64(stats.TotalRows) * ratio)
				if estimated > stats.TotalRows {
					estimated = stats.TotalRows
				}
				return estimated
			}
			return 0
		}
		return stats.TotalRows / 2

	default:
		if where == nil {
			return stats.TotalRows
		}

		selectivity := 1.0
		switch {
		case where.Kind != tsql.ExprBasic:
			// Compound predicate: assume 10% of rows match.
			selectivity = 0.1
		case where.Field == tsql.FieldID && stats.IDCardinality > 0:
			selectivity = 1.0 / float64(stats.IDCardinality)
		case where.Field == tsql.FieldUsername && stats.UsernameCardinality > 0:
			selectivity = 1.0 / float64(stats.UsernameCardinality)
		case where.Field == tsql.FieldEmail && stats.EmailCardinality > 0:
			selectivity = 1.0 / float64(stats.EmailCardinality)
		}

		estimated := uint32(float64(stats.TotalRows) * selectivity)
		if estimated == 0 && stats.TotalRows > 0 {
			estimated = 1
		}
		return estimated
	}
}

// estimateCost scores a plan. Without usable statistics, fixed costs
// order the strategies; with them, index lookups pay a tree descent,
// range scans a descent plus the matched rows, and full scans the whole
// table plus a per-row predicate evaluation overhead.
func estimateCost(plan *Plan, stats *Statistics, where *tsql.Expr) float64 {
	if stats == nil || !stats.Valid || stats.TotalRows == 0 {
		switch plan.Type {
		case PlanIndexLookup:
			return 1.0
		case PlanRangeScan:
			return 10.0
		default:
			return 100.0
		}
	}

	switch plan.Type {
	case PlanIndexLookup:
		return math.Log2(float64(stats.TotalRows)) + 1.0
	case PlanRangeScan:
		return math.Log2(float64(stats.TotalRows)) + float64(plan.EstimatedRows)
	default:
		cost := float64(stats.TotalRows)
		if where != nil {
			cost += float64(stats.TotalRows) * 0.1
		}
		return cost
	}
}
