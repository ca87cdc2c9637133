package operator

import (
	"fmt"
	"time"

	"github.com/Jonatan852/querygrid/pkg/columnar"
	"github.com/Jonatan852/querygrid/pkg/plan"
)

// Stats descreve a execução de um operador sobre um batch.
type Stats struct {
	InputRows   int           `json:"inputRows"`
	OutputRows  int           `json:"outputRows"`
	Elapsed     time.Duration `json:"elapsed"`
	ApproxBytes int64         `json:"approxBytes"`
}

// Operator é o contrato comum: consome um batch de entrada (ou nenhum, no
// scan) e produz um batch de saída mais estatísticas. Cada chamada processa
// um batch completo; não há estado entre batches fora do Aggregate.
type Operator interface {
	Execute(in *columnar.Batch) (*columnar.Batch, Stats, error)
}

// ScanSource abstrai o storage local para facilitar testes.
type ScanSource interface {
	Scan(table string, columns []string) (*columnar.Batch, error)
}

// Build monta o operador correspondente ao estágio do plano.
func Build(stage plan.ExecutionStage, source ScanSource) (Operator, error) {
	switch stage.Kind {
	case plan.StageScan:
		return NewScan(source, stage.Table, stage.Columns), nil
	case plan.StageFilter:
		if stage.Filter == nil {
			return nil, fmt.Errorf("estágio FILTER %d sem predicado", stage.ID)
		}
		return NewFilter(*stage.Filter), nil
	case plan.StageProject:
		return NewProject(stage.Columns), nil
	case plan.StageAggregate:
		// Agregações em worker são sempre parciais: o scheduler é quem
		// produz o agregado final reagregando as partições.
		return NewAggregate(stage.GroupBy, stage.Aggregates, true), nil
	default:
		return nil, fmt.Errorf("estágio %d tem operador não executável em worker: %s", stage.ID, stage.Kind)
	}
}

// measure preenche as estatísticas comuns de uma execução.
func measure(start time.Time, in, out *columnar.Batch) Stats {
	stats := Stats{Elapsed: time.Since(start)}
	if in != nil {
		stats.InputRows = in.RowCount
	}
	if out != nil {
		stats.OutputRows = out.RowCount
		stats.ApproxBytes = out.ApproxBytes()
	}
	return stats
}
