package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jonatan852/querygrid/pkg/columnar"
	"github.com/Jonatan852/querygrid/pkg/plan"
)

func salesBatch(t *testing.T, rows ...[2]interface{}) *columnar.Batch {
	t.Helper()
	batch := columnar.NewBatch(columnar.Schema{
		{Name: "category", Type: columnar.TypeString},
		{Name: "amount", Type: columnar.TypeFloat},
	})
	for _, row := range rows {
		var category, amount columnar.Value
		if row[0] == nil {
			category = columnar.NewNullValue(columnar.TypeString)
		} else {
			category = columnar.NewStringValue(row[0].(string))
		}
		if row[1] == nil {
			amount = columnar.NewNullValue(columnar.TypeFloat)
		} else {
			amount = columnar.NewFloatValue(row[1].(float64))
		}
		require.NoError(t, batch.AppendRow(category, amount))
	}
	return batch
}

type fakeSource struct {
	batch *columnar.Batch
}

func (f fakeSource) Scan(string, []string) (*columnar.Batch, error) {
	return f.batch, nil
}

func TestScanProducesBatchWithStats(t *testing.T) {
	in := salesBatch(t, [2]interface{}{"A", 10.0}, [2]interface{}{"B", 5.0})
	scan := NewScan(fakeSource{batch: in}, "sales", nil)

	out, stats, err := scan.Execute(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.RowCount)
	assert.Equal(t, 2, stats.OutputRows)
	assert.Zero(t, stats.InputRows)
	assert.Greater(t, stats.ApproxBytes, int64(0))
}

func TestFilterComparisons(t *testing.T) {
	in := salesBatch(t,
		[2]interface{}{"A", 10.0},
		[2]interface{}{"B", 20.0},
		[2]interface{}{"C", 30.0},
	)

	cases := []struct {
		op   plan.CompareOp
		want int
	}{
		{plan.OpEq, 1},
		{plan.OpNeq, 2},
		{plan.OpGt, 1},
		{plan.OpLt, 1},
		{plan.OpGte, 2},
		{plan.OpLte, 2},
	}
	for _, tc := range cases {
		filter := NewFilter(plan.FilterSpec{Column: "amount", Op: tc.op, Value: 20})
		out, stats, err := filter.Execute(in)
		require.NoError(t, err, "operador %s", tc.op)
		assert.Equal(t, tc.want, out.RowCount, "operador %s", tc.op)
		assert.Equal(t, 3, stats.InputRows)
	}
}

func TestFilterDiscardsMissingValues(t *testing.T) {
	in := salesBatch(t,
		[2]interface{}{"A", 10.0},
		[2]interface{}{"B", nil},
		[2]interface{}{"C", 30.0},
	)
	filter := NewFilter(plan.FilterSpec{Column: "amount", Op: plan.OpGte, Value: 0})
	out, _, err := filter.Execute(in)
	require.NoError(t, err)
	assert.Equal(t, 2, out.RowCount, "linha com valor ausente é descartada, não anulada")

	// Coluna sem comparação numérica possível: tudo descartado.
	textFilter := NewFilter(plan.FilterSpec{Column: "category", Op: plan.OpGt, Value: 0})
	out, _, err = textFilter.Execute(in)
	require.NoError(t, err)
	assert.Zero(t, out.RowCount)
}

func TestProjectPrunesAndPreservesNulls(t *testing.T) {
	in := salesBatch(t,
		[2]interface{}{"A", 10.0},
		[2]interface{}{"B", nil},
	)
	project := NewProject([]string{"amount"})
	out, _, err := project.Execute(in)
	require.NoError(t, err)

	require.Len(t, out.Columns, 1)
	assert.Equal(t, "amount", out.Columns[0].Name)
	value, err := out.Value("amount", 1)
	require.NoError(t, err)
	assert.True(t, value.IsNull(), "projeção preserva NULLs")

	_, _, err = NewProject([]string{"nope"}).Execute(in)
	assert.Error(t, err)
}

func TestAggregateGroupsIndependentOfOrder(t *testing.T) {
	specs := []plan.AggregateSpec{{Func: plan.AggSum, Column: "amount", Alias: "total"}}

	orderings := [][][2]interface{}{
		{{"A", 10.0}, {"A", 20.0}, {"B", 5.0}},
		{{"B", 5.0}, {"A", 20.0}, {"A", 10.0}},
	}
	for _, rows := range orderings {
		in := salesBatch(t, rows...)
		agg := NewAggregate([]string{"category"}, specs, false)
		out, _, err := agg.Execute(in)
		require.NoError(t, err)
		require.Equal(t, 2, out.RowCount, "exatamente dois grupos")

		got := map[string]float64{}
		for row := 0; row < out.RowCount; row++ {
			key, err := out.Value("category", row)
			require.NoError(t, err)
			total, err := out.Value("total", row)
			require.NoError(t, err)
			f, _ := total.AsFloat()
			got[key.String()] = f
		}
		assert.Equal(t, map[string]float64{"A": 30, "B": 5}, got)
	}
}

func TestAggregateCountIncludesNulls(t *testing.T) {
	in := salesBatch(t,
		[2]interface{}{"A", 10.0},
		[2]interface{}{"A", nil},
	)
	agg := NewAggregate([]string{"category"}, []plan.AggregateSpec{
		{Func: plan.AggCount, Column: "amount", Alias: "c"},
		{Func: plan.AggSum, Column: "amount", Alias: "s"},
	}, false)
	out, _, err := agg.Execute(in)
	require.NoError(t, err)
	require.Equal(t, 1, out.RowCount)

	count, _ := out.Value("c", 0)
	i, _ := count.AsInt()
	assert.Equal(t, int64(2), i, "COUNT inclui NULLs")

	sum, _ := out.Value("s", 0)
	f, _ := sum.AsFloat()
	assert.Equal(t, 10.0, f, "SUM ignora NULLs sem contar como zero")
}

func TestAggregateEmptyGroupQuirks(t *testing.T) {
	// Grupo sem nenhum valor numérico válido: AVG, MIN e MAX devolvem 0.
	// Comportamento herdado e deliberadamente preservado.
	in := salesBatch(t, [2]interface{}{"A", nil}, [2]interface{}{"A", nil})
	agg := NewAggregate([]string{"category"}, []plan.AggregateSpec{
		{Func: plan.AggAvg, Column: "amount", Alias: "avg"},
		{Func: plan.AggMin, Column: "amount", Alias: "min"},
		{Func: plan.AggMax, Column: "amount", Alias: "max"},
	}, false)
	out, _, err := agg.Execute(in)
	require.NoError(t, err)
	require.Equal(t, 1, out.RowCount)

	for _, alias := range []string{"avg", "min", "max"} {
		value, err := out.Value(alias, 0)
		require.NoError(t, err)
		f, _ := value.AsFloat()
		assert.Zero(t, f, "%s de grupo vazio devolve 0", alias)
	}
}

func TestAggregateParsesTextAsNumber(t *testing.T) {
	in := columnar.NewBatch(columnar.Schema{
		{Name: "category", Type: columnar.TypeString},
		{Name: "amount", Type: columnar.TypeString},
	})
	require.NoError(t, in.AppendRow(columnar.NewStringValue("A"), columnar.NewStringValue("10.5")))
	require.NoError(t, in.AppendRow(columnar.NewStringValue("A"), columnar.NewStringValue("abc")))

	agg := NewAggregate([]string{"category"}, []plan.AggregateSpec{
		{Func: plan.AggSum, Column: "amount", Alias: "s"},
	}, false)
	out, _, err := agg.Execute(in)
	require.NoError(t, err)

	sum, _ := out.Value("s", 0)
	f, _ := sum.AsFloat()
	assert.Equal(t, 10.5, f, "texto parseável participa; falha de parse é ignorada")
}

func TestAggregatePartialEmitsHiddenAvgCount(t *testing.T) {
	in := salesBatch(t, [2]interface{}{"A", 10.0}, [2]interface{}{"A", 20.0})
	agg := NewAggregate([]string{"category"}, []plan.AggregateSpec{
		{Func: plan.AggAvg, Column: "amount", Alias: "avg"},
	}, true)
	out, _, err := agg.Execute(in)
	require.NoError(t, err)

	hidden, ok := out.Column(AvgCountColumn("avg"))
	require.True(t, ok, "AVG parcial carrega a contagem oculta")
	count, err := hidden.Get(0)
	require.NoError(t, err)
	i, _ := count.AsInt()
	assert.Equal(t, int64(2), i)
	assert.True(t, IsHiddenColumn(hidden.Name))
}

func TestAggregateGlobalGroupOnEmptyInput(t *testing.T) {
	in := salesBatch(t)
	agg := NewAggregate(nil, []plan.AggregateSpec{
		{Func: plan.AggCount, Column: "*", Alias: "c"},
	}, false)
	out, _, err := agg.Execute(in)
	require.NoError(t, err)
	require.Equal(t, 1, out.RowCount, "agregação global sem linhas produz um grupo")

	count, _ := out.Value("c", 0)
	i, _ := count.AsInt()
	assert.Zero(t, i)
}

func TestAggregatePartialEmptyInputEmitsNothing(t *testing.T) {
	// Um parcial de partição vazia não pode sintetizar o grupo global:
	// um MIN/MAX em 0 contaminaria o merge com as outras partições.
	in := salesBatch(t)
	agg := NewAggregate(nil, []plan.AggregateSpec{
		{Func: plan.AggMin, Column: "amount", Alias: "lo"},
		{Func: plan.AggMax, Column: "amount", Alias: "hi"},
	}, true)
	out, _, err := agg.Execute(in)
	require.NoError(t, err)
	assert.Zero(t, out.RowCount, "parcial vazio não emite grupo")
}
