package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jonatan852/querygrid/internal/parser"
	"github.com/Jonatan852/querygrid/pkg/plan"
)

func mustPlan(t *testing.T, sql string) *plan.ExecutionPlan {
	t.Helper()
	desc, err := parser.Parse(sql)
	require.NoError(t, err)
	result, err := New().CreateExecutionPlan("q-1", desc, sql)
	require.NoError(t, err)
	require.NoError(t, result.Validate())
	return result
}

func kinds(p *plan.ExecutionPlan) []plan.StageKind {
	out := make([]plan.StageKind, 0, len(p.Stages))
	for _, stage := range p.Stages {
		out = append(out, stage.Kind)
	}
	return out
}

func TestPlanPlainScan(t *testing.T) {
	p := mustPlan(t, "SELECT * FROM sales")
	assert.Equal(t, []plan.StageKind{plan.StageScan}, kinds(p))
	assert.Equal(t, 1, p.Stages[0].ID)
	assert.Equal(t, plan.PartitionSingle, p.Stages[0].Partitioning.Mode)
}

func TestPlanScanFilterProject(t *testing.T) {
	p := mustPlan(t, "SELECT category FROM sales WHERE amount > 10")
	assert.Equal(t, []plan.StageKind{plan.StageScan, plan.StageFilter, plan.StageProject}, kinds(p))

	for i, stage := range p.Stages {
		assert.Equal(t, i+1, stage.ID, "IDs estritamente crescentes a partir de 1")
		if i > 0 {
			assert.Equal(t, p.Stages[i-1].ID, stage.Upstream)
		}
	}
}

func TestPlanGroupByIsHashPartitioned(t *testing.T) {
	p := mustPlan(t, "SELECT category, SUM(amount) AS total FROM sales GROUP BY category")
	require.Equal(t, []plan.StageKind{plan.StageScan, plan.StageAggregate}, kinds(p))

	scan := p.Stages[0]
	assert.Equal(t, plan.PartitionHash, scan.Partitioning.Mode,
		"scan alimentando group-by sai hash-particionado pelas colunas de grupo")
	assert.Equal(t, []string{"category"}, scan.Partitioning.Columns)

	agg := p.Stages[1]
	assert.Equal(t, []string{"category"}, agg.GroupBy)
	require.Len(t, agg.Aggregates, 1)
	assert.Equal(t, "total", agg.Aggregates[0].Alias)
}

func TestPlanFilterBeforeAggregateCarriesHash(t *testing.T) {
	p := mustPlan(t, "SELECT category, COUNT(*) AS c FROM sales WHERE amount > 0 GROUP BY category")
	require.Equal(t, []plan.StageKind{plan.StageScan, plan.StageFilter, plan.StageAggregate}, kinds(p))
	assert.Equal(t, plan.PartitionHash, p.Stages[1].Partitioning.Mode,
		"o estágio imediatamente antes do aggregate carrega o hash")
}

func TestPlanOrderByLimitGetsShuffleStage(t *testing.T) {
	p := mustPlan(t, "SELECT id FROM sales ORDER BY id DESC LIMIT 3")
	require.Equal(t, []plan.StageKind{plan.StageScan, plan.StageProject, plan.StageShuffle}, kinds(p))

	final := p.Final()
	require.Len(t, final.SortKeys, 1)
	assert.False(t, final.SortKeys[0].Ascending)
	require.NotNil(t, final.Limit)
	assert.Equal(t, int64(3), *final.Limit)
}

func TestPlanHavingTravelsOnShuffle(t *testing.T) {
	p := mustPlan(t, "SELECT category, COUNT(*) AS c FROM sales GROUP BY category HAVING c > 1")
	final := p.Final()
	require.Equal(t, plan.StageShuffle, final.Kind)
	require.NotNil(t, final.Filter)
	assert.Equal(t, "c", final.Filter.Column)
}

func TestCreateSimpleExecutionPlan(t *testing.T) {
	p, err := New().CreateSimpleExecutionPlan("q-2", "SELECT funky(syntax) FROM sales")
	require.NoError(t, err)
	require.Len(t, p.Stages, 1)
	assert.Equal(t, plan.StageScan, p.Stages[0].Kind)
	assert.Equal(t, "sales", p.Stages[0].Table)

	_, err = New().CreateSimpleExecutionPlan("q-3", "SHOW TABLES")
	assert.Error(t, err)
}

func TestPlanVisualization(t *testing.T) {
	p := mustPlan(t, "SELECT category, SUM(amount) AS s FROM sales GROUP BY category")

	data, err := PlanToJSON(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), "AGGREGATE")

	dot, err := PlanToDOT(p)
	require.NoError(t, err)
	assert.Contains(t, dot, "digraph Plan")
	assert.Contains(t, dot, "stage-1")
}
