package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulboul1013/tinytable/tsql"
)

func whereOf(t *testing.T, input string) *tsql.Expr {
	t.Helper()
	stmt, err := tsql.Parse("select where " + input)
	require.NoError(t, err)
	return stmt.Where
}

func TestHeuristicPlanSelection(t *testing.T) {
	tests := []struct {
		name     string
		where    string
		wantType PlanType
		wantKey  uint32
	}{
		{"id equality", "id = 5", PlanIndexLookup, 5},
		{"id greater", "id > 5", PlanRangeScan, 6},
		{"id greater equal", "id >= 5", PlanRangeScan, 5},
		{"id less", "id < 5", PlanRangeScan, 0},
		{"id less equal", "id <= 5", PlanRangeScan, 0},
		{"id not equal", "id != 5", PlanFullScan, 0},
		{"username equality", "username = bob", PlanFullScan, 0},
		{"conjunct with id equality", "username = bob and id = 9", PlanIndexLookup, 9},
		{"conjunct with id range", "username = bob and id > 9", PlanRangeScan, 10},
		{"disjunction stays full scan", "id = 1 or id = 2", PlanFullScan, 0},
		{"nested conjunct", "(id = 3 and username = a) and email = e", PlanIndexLookup, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := heuristicPlan(whereOf(t, tt.where))
			assert.Equal(t, tt.wantType, plan.Type)
			if tt.wantType != PlanFullScan {
				assert.Equal(t, tt.wantKey, plan.StartKey)
				assert.True(t, plan.HasStartKey)
			}
			assert.True(t, plan.Forward)
		})
	}
}

func TestHeuristicPlanNoWhere(t *testing.T) {
	plan := heuristicPlan(nil)
	assert.Equal(t, PlanFullScan, plan.Type)
}

func TestFixedCostFallback(t *testing.T) {
	lookup := Plan{Type: PlanIndexLookup}
	rangeScan := Plan{Type: PlanRangeScan}
	fullScan := Plan{Type: PlanFullScan}

	assert.Equal(t, 1.0, estimateCost(&lookup, nil, nil))
	assert.Equal(t, 10.0, estimateCost(&rangeScan, nil, nil))
	assert.Equal(t, 100.0, estimateCost(&fullScan, nil, nil))

	invalid := &Statistics{}
	invalid.Reset()
	assert.Equal(t, 1.0, estimateCost(&lookup, invalid, nil))
}

func validStats() *Statistics {
	return &Statistics{
		TotalRows:           1000,
		IDMin:               1,
		IDMax:               1000,
		IDCardinality:       1000,
		UsernameCardinality: 50,
		EmailCardinality:    900,
		Valid:               true,
	}
}

func TestCostBasedSelection(t *testing.T) {
	stats := validStats()

	plan := planQuery(whereOf(t, "id = 5"), stats)
	assert.Equal(t, PlanIndexLookup, plan.Type)
	assert.Equal(t, uint32(5), plan.StartKey)
	assert.InDelta(t, 10.97, plan.EstimatedCost, 0.1)
	assert.Equal(t, uint32(1), plan.EstimatedRows)

	plan = planQuery(whereOf(t, "id > 990"), stats)
	assert.Equal(t, PlanRangeScan, plan.Type)
	assert.Equal(t, uint32(991), plan.StartKey)
	assert.Less(t, plan.EstimatedCost, 100.0)

	plan = planQuery(whereOf(t, "username = bob"), stats)
	assert.Equal(t, PlanFullScan, plan.Type)
	// Full table plus the per-row predicate overhead
	assert.InDelta(t, 1100.0, plan.EstimatedCost, 0.01)
	assert.Equal(t, uint32(20), plan.EstimatedRows)
}

func TestCostBasedNoWhere(t *testing.T) {
	stats := validStats()
	plan := planQuery(nil, stats)
	assert.Equal(t, PlanFullScan, plan.Type)
	assert.Equal(t, uint32(1000), plan.EstimatedRows)
	// No predicate to evaluate per row
	assert.InDelta(t, 1000.0, plan.EstimatedCost, 0.01)
}

func TestRangeRowEstimate(t *testing.T) {
	stats := validStats()

	plan := Plan{Type: PlanRangeScan, StartKey: 901, HasStartKey: true, Forward: true}
	rows := estimateRows(&plan, stats, whereOf(t, "id > 900"))
	assert.Equal(t, uint32(100), rows)

	// Start key 0 widens the interval by one: [0, 100] over [1, 1000]
	plan = Plan{Type: PlanRangeScan, StartKey: 0, HasStartKey: true, Forward: true}
	rows = estimateRows(&plan, stats, whereOf(t, "id <= 100"))
	assert.Equal(t, uint32(101), rows)
}

func TestCompoundSelectivityDefaultsToTenPercent(t *testing.T) {
	stats := validStats()
	plan := Plan{Type: PlanFullScan, Forward: true}
	rows := estimateRows(&plan, stats, whereOf(t, "username = a and email = b"))
	assert.Equal(t, uint32(100), rows)
}
