package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Jonatan852/querygrid/internal/operator"
	"github.com/Jonatan852/querygrid/pkg/columnar"
	"github.com/Jonatan852/querygrid/pkg/plan"
)

// mergeFinal combina as partições do último estágio executado nos workers.
// Estágios de agregação exigem a re-agregação dos parciais; os demais apenas
// concatenam.
func (s *Scheduler) mergeFinal(upstream *plan.ExecutionStage, inputs []*columnar.Batch) (*columnar.Batch, error) {
	if upstream != nil && upstream.Kind == plan.StageAggregate {
		return mergeAggregates(upstream, inputs)
	}
	return concat(inputs)
}

// gather executa o estágio SHUFFLE no coordinator: re-agrega (ou concatena)
// as partições do upstream e aplica having, ordenação e limite.
func (s *Scheduler) gather(stage plan.ExecutionStage, upstream *plan.ExecutionStage, inputs []*columnar.Batch) (*columnar.Batch, error) {
	merged, err := s.mergeFinal(upstream, inputs)
	if err != nil {
		return nil, err
	}

	if stage.Filter != nil {
		having := operator.NewFilter(*stage.Filter)
		merged, _, err = having.Execute(merged)
		if err != nil {
			return nil, err
		}
	}

	if len(stage.SortKeys) > 0 {
		merged, err = sortBatch(merged, stage.SortKeys)
		if err != nil {
			return nil, err
		}
	}

	if stage.Limit != nil {
		merged, err = limitBatch(merged, *stage.Limit)
		if err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// partialGroup acumula os parciais de um grupo durante o merge.
type partialGroup struct {
	groupValues []columnar.Value
	counts      []int64   // COUNT e contagens ocultas de AVG
	sums        []float64 // SUM e numeradores ponderados de AVG
	mins        []float64
	maxes       []float64
	seen        []bool // grupo já contribuiu para MIN/MAX
}

// mergeAggregates reduz os agregados parciais das partições ao resultado
// final. COUNT e SUM somam; MIN e MAX re-comparam; AVG é recomposto a partir
// das colunas ocultas de contagem emitidas pelos workers. As colunas ocultas
// não aparecem na saída.
func mergeAggregates(stage *plan.ExecutionStage, inputs []*columnar.Batch) (*columnar.Batch, error) {
	groupBy := stage.GroupBy
	specs := stage.Aggregates

	groups := make(map[operator.GroupKey]*partialGroup)
	var order []operator.GroupKey

	var reference columnar.Schema
	for _, in := range inputs {
		if in == nil || len(in.Columns) == 0 {
			continue
		}
		if reference == nil {
			reference = in.Schema()
		} else if !schemasEqual(reference, in.Schema()) {
			return nil, fmt.Errorf("%w: %s vs %s", ErrAggregationMismatch, schemaString(reference), schemaString(in.Schema()))
		}

		for row := 0; row < in.RowCount; row++ {
			groupValues := make([]columnar.Value, 0, len(groupBy))
			for _, name := range groupBy {
				col, ok := in.Column(name)
				if !ok {
					return nil, fmt.Errorf("%w: coluna de grupo %q ausente", ErrAggregationMismatch, name)
				}
				v, err := col.Get(row)
				if err != nil {
					return nil, err
				}
				groupValues = append(groupValues, v)
			}
			key := operator.MakeGroupKey(groupValues)
			pg, ok := groups[key]
			if !ok {
				pg = &partialGroup{
					groupValues: groupValues,
					counts:      make([]int64, len(specs)),
					sums:        make([]float64, len(specs)),
					mins:        make([]float64, len(specs)),
					maxes:       make([]float64, len(specs)),
					seen:        make([]bool, len(specs)),
				}
				groups[key] = pg
				order = append(order, key)
			}
			if err := accumulate(pg, specs, in, row); err != nil {
				return nil, err
			}
		}
	}

	// Sem nenhuma linha em nenhuma partição e sem GROUP BY, a semântica
	// global exige exatamente um grupo vazio.
	if len(order) == 0 && len(groupBy) == 0 && len(specs) > 0 {
		key := operator.MakeGroupKey(nil)
		groups[key] = &partialGroup{
			counts: make([]int64, len(specs)),
			sums:   make([]float64, len(specs)),
			mins:   make([]float64, len(specs)),
			maxes:  make([]float64, len(specs)),
			seen:   make([]bool, len(specs)),
		}
		order = append(order, key)
	}

	out := columnar.NewBatch(finalSchema(stage, reference))
	for _, key := range order {
		pg := groups[key]
		values := make([]columnar.Value, 0, len(groupBy)+len(specs))
		values = append(values, pg.groupValues...)
		for i, spec := range specs {
			values = append(values, finalValue(pg, i, spec))
		}
		if err := out.AppendRow(values...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// accumulate incorpora uma linha parcial ao acumulador do seu grupo.
func accumulate(pg *partialGroup, specs []plan.AggregateSpec, in *columnar.Batch, row int) error {
	for i, spec := range specs {
		name := spec.OutputName()
		col, ok := in.Column(name)
		if !ok {
			return fmt.Errorf("%w: coluna de agregado %q ausente", ErrAggregationMismatch, name)
		}
		v, err := col.Get(row)
		if err != nil {
			return err
		}
		num, _ := v.Numeric()

		switch spec.Func {
		case plan.AggCount:
			pg.counts[i] += int64(num)
		case plan.AggSum:
			pg.sums[i] += num
		case plan.AggAvg:
			countCol, ok := in.Column(operator.AvgCountColumn(name))
			if !ok {
				return fmt.Errorf("%w: contagem oculta de %q ausente", ErrAggregationMismatch, name)
			}
			cv, err := countCol.Get(row)
			if err != nil {
				return err
			}
			count, _ := cv.Numeric()
			pg.sums[i] += num * count
			pg.counts[i] += int64(count)
		case plan.AggMin:
			if !pg.seen[i] || num < pg.mins[i] {
				pg.mins[i] = num
				pg.seen[i] = true
			}
		case plan.AggMax:
			if !pg.seen[i] || num > pg.maxes[i] {
				pg.maxes[i] = num
				pg.seen[i] = true
			}
		}
	}
	return nil
}

// finalValue materializa o valor final de um agregado a partir do acumulador.
func finalValue(pg *partialGroup, i int, spec plan.AggregateSpec) columnar.Value {
	switch spec.Func {
	case plan.AggCount:
		return columnar.NewIntValue(pg.counts[i])
	case plan.AggSum:
		return columnar.NewFloatValue(pg.sums[i])
	case plan.AggAvg:
		if pg.counts[i] == 0 {
			return columnar.NewFloatValue(0)
		}
		return columnar.NewFloatValue(pg.sums[i] / float64(pg.counts[i]))
	case plan.AggMin:
		if !pg.seen[i] {
			return columnar.NewFloatValue(0)
		}
		return columnar.NewFloatValue(pg.mins[i])
	case plan.AggMax:
		if !pg.seen[i] {
			return columnar.NewFloatValue(0)
		}
		return columnar.NewFloatValue(pg.maxes[i])
	}
	return columnar.NewNullValue(columnar.TypeFloat)
}

// finalSchema é o schema do agregado final: colunas de grupo seguidas dos
// agregados, sem as colunas ocultas dos parciais.
func finalSchema(stage *plan.ExecutionStage, partial columnar.Schema) columnar.Schema {
	schema := make(columnar.Schema, 0, len(stage.GroupBy)+len(stage.Aggregates))
	for _, name := range stage.GroupBy {
		dt := columnar.TypeString
		for _, cs := range partial {
			if cs.Name == name {
				dt = cs.Type
				break
			}
		}
		schema = append(schema, columnar.ColumnSchema{Name: name, Type: dt})
	}
	for _, spec := range stage.Aggregates {
		dt := columnar.TypeFloat
		if spec.Func == plan.AggCount {
			dt = columnar.TypeInt
		}
		schema = append(schema, columnar.ColumnSchema{Name: spec.OutputName(), Type: dt})
	}
	return schema
}

func schemasEqual(a, b columnar.Schema) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func schemaString(s columnar.Schema) string {
	return "[" + strings.Join(s.Names(), ", ") + "]"
}

// sortBatch ordena o batch pelas chaves dadas, estável para empates.
func sortBatch(in *columnar.Batch, keys []plan.SortKey) (*columnar.Batch, error) {
	if in == nil || in.RowCount < 2 {
		return in, nil
	}
	keyCols := make([]*columnar.Column, len(keys))
	for i, key := range keys {
		col, ok := in.Column(key.Column)
		if !ok {
			return nil, fmt.Errorf("coluna de ordenação %q ausente", key.Column)
		}
		keyCols[i] = col
	}

	indexes := make([]int, in.RowCount)
	for i := range indexes {
		indexes[i] = i
	}
	var sortErr error
	sort.SliceStable(indexes, func(a, b int) bool {
		for k, key := range keys {
			col := keyCols[k]
			va, err := col.Get(indexes[a])
			if err != nil {
				sortErr = err
				return false
			}
			vb, err := col.Get(indexes[b])
			if err != nil {
				sortErr = err
				return false
			}
			cmp := compareValues(va, vb)
			if cmp == 0 {
				continue
			}
			if key.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
	if sortErr != nil {
		return nil, sortErr
	}

	out := columnar.NewBatch(in.Schema())
	for _, idx := range indexes {
		if err := out.CopyRow(in, idx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// compareValues ordena nulls antes de qualquer valor; numéricos comparam
// como float e o restante como texto.
func compareValues(a, b columnar.Value) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return -1
	case b.IsNull():
		return 1
	}
	na, aok := a.Numeric()
	nb, bok := b.Numeric()
	if aok && bok {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a.String(), b.String())
}

func limitBatch(in *columnar.Batch, limit int64) (*columnar.Batch, error) {
	if in == nil || int64(in.RowCount) <= limit {
		return in, nil
	}
	out := columnar.NewBatch(in.Schema())
	for row := int64(0); row < limit; row++ {
		if err := out.CopyRow(in, int(row)); err != nil {
			return nil, err
		}
	}
	return out, nil
}
