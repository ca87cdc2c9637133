package operator

import (
	"time"

	"github.com/Jonatan852/querygrid/pkg/columnar"
)

// Scan materializa as linhas de uma fonte nomeada em um batch.
type Scan struct {
	source  ScanSource
	table   string
	columns []string
}

func NewScan(source ScanSource, table string, columns []string) *Scan {
	return &Scan{source: source, table: table, columns: columns}
}

// Execute ignora o batch de entrada: scan é o operador inicial do plano.
func (s *Scan) Execute(_ *columnar.Batch) (*columnar.Batch, Stats, error) {
	start := time.Now()
	batch, err := s.source.Scan(s.table, s.columns)
	if err != nil {
		return nil, Stats{Elapsed: time.Since(start)}, err
	}
	return batch, measure(start, nil, batch), nil
}
