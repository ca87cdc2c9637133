package operator

import (
	"time"

	"github.com/Jonatan852/querygrid/pkg/columnar"
	"github.com/Jonatan852/querygrid/pkg/plan"
)

// Filter avalia um predicado numérico por linha e copia apenas as linhas
// aprovadas para um batch novo, compactado. Linhas com valor ausente ou de
// tipo sem comparação numérica são descartadas, não anuladas.
type Filter struct {
	spec plan.FilterSpec
}

func NewFilter(spec plan.FilterSpec) *Filter {
	return &Filter{spec: spec}
}

func (f *Filter) Execute(in *columnar.Batch) (*columnar.Batch, Stats, error) {
	start := time.Now()
	out := columnar.NewBatch(in.Schema())
	col, ok := in.Column(f.spec.Column)
	if ok {
		for row := 0; row < in.RowCount; row++ {
			value, err := col.Get(row)
			if err != nil {
				continue
			}
			numeric, valid := value.Numeric()
			if !valid {
				continue
			}
			if !compare(numeric, f.spec.Op, f.spec.Value) {
				continue
			}
			if err := out.CopyRow(in, row); err != nil {
				return nil, Stats{}, err
			}
		}
	}
	return out, measure(start, in, out), nil
}

func compare(left float64, op plan.CompareOp, right float64) bool {
	switch op {
	case plan.OpEq:
		return left == right
	case plan.OpNeq:
		return left != right
	case plan.OpGt:
		return left > right
	case plan.OpLt:
		return left < right
	case plan.OpGte:
		return left >= right
	case plan.OpLte:
		return left <= right
	default:
		return false
	}
}
