package operator

import (
	"strings"
	"time"

	"github.com/Jonatan852/querygrid/pkg/columnar"
	"github.com/Jonatan852/querygrid/pkg/plan"
)

// AvgCountColumn é o nome da coluna oculta que acompanha cada AVG parcial:
// carrega a contagem de amostras válidas da partição para que o merge
// global produza a mesma média de uma execução em nó único.
func AvgCountColumn(output string) string {
	return "__count:" + output
}

// IsHiddenColumn indica colunas auxiliares que não aparecem no resultado final.
func IsHiddenColumn(name string) bool {
	return strings.HasPrefix(name, "__count:")
}

// Aggregate agrupa linhas pela tupla ordenada das colunas de GROUP BY e
// calcula uma linha de saída por grupo distinto.
//
// Algoritmo em duas passadas: a primeira constrói um mapa de GroupKey para a
// lista de índices de linha do grupo (O(n) total); a segunda avalia cada
// função de agregação sobre os índices de cada grupo.
type Aggregate struct {
	groupBy []string
	specs   []plan.AggregateSpec
	partial bool
}

func NewAggregate(groupBy []string, specs []plan.AggregateSpec, partial bool) *Aggregate {
	return &Aggregate{groupBy: groupBy, specs: specs, partial: partial}
}

func (a *Aggregate) Execute(in *columnar.Batch) (*columnar.Batch, Stats, error) {
	start := time.Now()

	// Primeira passada: índices de linha por grupo, preservando a ordem de
	// aparição para saída determinística.
	groups := map[GroupKey][]int{}
	groupValues := map[GroupKey][]columnar.Value{}
	var order []GroupKey
	for row := 0; row < in.RowCount; row++ {
		values := a.keyValues(in, row)
		key := MakeGroupKey(values)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
			groupValues[key] = values
		}
		groups[key] = append(groups[key], row)
	}

	out := columnar.NewBatch(a.outputSchema(in))

	// Sem linhas de entrada e sem GROUP BY ainda há um grupo global vazio,
	// mas só no agregado final. Um parcial de partição vazia não emite nada:
	// o grupo sintetizado carregaria MIN/MAX em 0 e contaminaria o
	// mínimo/máximo real das outras partições no merge.
	if in.RowCount == 0 && len(a.groupBy) == 0 && !a.partial {
		key := MakeGroupKey(nil)
		order = append(order, key)
		groups[key] = nil
		groupValues[key] = nil
	}

	// Segunda passada: uma linha de saída por grupo.
	for _, key := range order {
		rows := groups[key]
		values := make([]columnar.Value, 0, len(out.Columns))
		values = append(values, groupValues[key]...)
		for _, spec := range a.specs {
			result, validCount := evaluate(spec, in, rows)
			values = append(values, result)
			if a.partial && spec.Func == plan.AggAvg {
				values = append(values, columnar.NewIntValue(validCount))
			}
		}
		if err := out.AppendRow(values...); err != nil {
			return nil, Stats{}, err
		}
	}

	return out, measure(start, in, out), nil
}

func (a *Aggregate) keyValues(in *columnar.Batch, row int) []columnar.Value {
	values := make([]columnar.Value, 0, len(a.groupBy))
	for _, name := range a.groupBy {
		value, err := in.Value(name, row)
		if err != nil {
			value = columnar.NewNullValue(columnar.TypeString)
		}
		values = append(values, value)
	}
	return values
}

// outputSchema: colunas de GROUP BY (tipo inalterado) seguidas de uma coluna
// por função de agregação, mais as contagens ocultas de AVG quando parcial.
func (a *Aggregate) outputSchema(in *columnar.Batch) columnar.Schema {
	schema := make(columnar.Schema, 0, len(a.groupBy)+len(a.specs))
	for _, name := range a.groupBy {
		typ := columnar.TypeString
		if col, ok := in.Column(name); ok {
			typ = col.Type
		}
		schema = append(schema, columnar.ColumnSchema{Name: name, Type: typ})
	}
	for _, spec := range a.specs {
		schema = append(schema, columnar.ColumnSchema{Name: spec.OutputName(), Type: outputType(spec.Func)})
		if a.partial && spec.Func == plan.AggAvg {
			schema = append(schema, columnar.ColumnSchema{Name: AvgCountColumn(spec.OutputName()), Type: columnar.TypeInt})
		}
	}
	return schema
}

func outputType(fn plan.AggregateFunc) columnar.DataType {
	if fn == plan.AggCount {
		return columnar.TypeInt
	}
	return columnar.TypeFloat
}

// evaluate despacha para a função da variante. Devolve também a contagem de
// amostras válidas, usada pelo merge distribuído de AVG.
func evaluate(spec plan.AggregateSpec, in *columnar.Batch, rows []int) (columnar.Value, int64) {
	switch spec.Func {
	case plan.AggCount:
		return evalCount(rows)
	case plan.AggSum:
		return evalSum(spec.Column, in, rows)
	case plan.AggAvg:
		return evalAvg(spec.Column, in, rows)
	case plan.AggMin:
		return evalMin(spec.Column, in, rows)
	case plan.AggMax:
		return evalMax(spec.Column, in, rows)
	default:
		return columnar.NewFloatValue(0), 0
	}
}

// evalCount conta as linhas do grupo, NULLs incluídos.
func evalCount(rows []int) (columnar.Value, int64) {
	return columnar.NewIntValue(int64(len(rows))), int64(len(rows))
}

// evalSum soma os valores numéricos válidos; valores não numéricos ou não
// parseáveis são silenciosamente ignorados — não contam como zero nem erram.
func evalSum(column string, in *columnar.Batch, rows []int) (columnar.Value, int64) {
	sum, valid := foldNumeric(column, in, rows, func(acc, v float64) float64 { return acc + v })
	return columnar.NewFloatValue(sum), valid
}

// evalAvg divide a soma dos valores válidos pela contagem de válidos.
// Sem amostras válidas o resultado é 0 — simplificação deliberada do motor,
// não um caminho de erro.
func evalAvg(column string, in *columnar.Batch, rows []int) (columnar.Value, int64) {
	sum, valid := foldNumeric(column, in, rows, func(acc, v float64) float64 { return acc + v })
	if valid == 0 {
		return columnar.NewFloatValue(0), 0
	}
	return columnar.NewFloatValue(sum / float64(valid)), valid
}

// evalMin devolve o menor valor válido; grupo sem valores numéricos válidos
// devolve 0, nunca NULL.
func evalMin(column string, in *columnar.Batch, rows []int) (columnar.Value, int64) {
	best, valid := pickNumeric(column, in, rows, func(candidate, current float64) bool { return candidate < current })
	if valid == 0 {
		return columnar.NewFloatValue(0), 0
	}
	return columnar.NewFloatValue(best), valid
}

// evalMax devolve o maior valor válido; mesmo comportamento de grupo vazio.
func evalMax(column string, in *columnar.Batch, rows []int) (columnar.Value, int64) {
	best, valid := pickNumeric(column, in, rows, func(candidate, current float64) bool { return candidate > current })
	if valid == 0 {
		return columnar.NewFloatValue(0), 0
	}
	return columnar.NewFloatValue(best), valid
}

func foldNumeric(column string, in *columnar.Batch, rows []int, fold func(acc, v float64) float64) (float64, int64) {
	col, ok := in.Column(column)
	if !ok {
		return 0, 0
	}
	var acc float64
	var valid int64
	for _, row := range rows {
		value, err := col.Get(row)
		if err != nil {
			continue
		}
		numeric, okNum := value.Numeric()
		if !okNum {
			continue
		}
		acc = fold(acc, numeric)
		valid++
	}
	return acc, valid
}

func pickNumeric(column string, in *columnar.Batch, rows []int, better func(candidate, current float64) bool) (float64, int64) {
	col, ok := in.Column(column)
	if !ok {
		return 0, 0
	}
	var best float64
	var valid int64
	for _, row := range rows {
		value, err := col.Get(row)
		if err != nil {
			continue
		}
		numeric, okNum := value.Numeric()
		if !okNum {
			continue
		}
		if valid == 0 || better(numeric, best) {
			best = numeric
		}
		valid++
	}
	return best, valid
}
