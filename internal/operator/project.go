package operator

import (
	"fmt"
	"time"

	"github.com/Jonatan852/querygrid/pkg/columnar"
)

// Project copia apenas as colunas nomeadas para a saída, preservando NULLs
// e descartando todas as outras (poda de colunas).
type Project struct {
	columns []string
}

func NewProject(columns []string) *Project {
	return &Project{columns: columns}
}

func (p *Project) Execute(in *columnar.Batch) (*columnar.Batch, Stats, error) {
	start := time.Now()
	out := &columnar.Batch{RowCount: in.RowCount}
	for _, name := range p.columns {
		col, ok := in.Column(name)
		if !ok {
			return nil, Stats{}, fmt.Errorf("projeção referencia coluna inexistente: %s", name)
		}
		out.Columns = append(out.Columns, col.Clone())
	}
	return out, measure(start, in, out), nil
}
