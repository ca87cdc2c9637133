package scheduler

import (
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/Jonatan852/querygrid/internal/operator"
	"github.com/Jonatan852/querygrid/pkg/columnar"
	"github.com/Jonatan852/querygrid/pkg/plan"
)

// route redistribui as saídas de um estágio entre as partições do próximo,
// conforme o modo de particionamento do estágio produtor.
func route(outputs []*columnar.Batch, part plan.Partitioning, partitions int) ([]*columnar.Batch, error) {
	switch part.Mode {
	case plan.PartitionSingle:
		merged, err := concat(outputs)
		if err != nil {
			return nil, err
		}
		routed := make([]*columnar.Batch, partitions)
		routed[0] = merged
		for i := 1; i < partitions; i++ {
			routed[i] = emptyLike(merged)
		}
		return routed, nil

	case plan.PartitionBroadcast:
		merged, err := concat(outputs)
		if err != nil {
			return nil, err
		}
		routed := make([]*columnar.Batch, partitions)
		for i := range routed {
			routed[i] = cloneBatch(merged)
		}
		return routed, nil

	case plan.PartitionHash:
		return hashRoute(outputs, part.Columns, partitions)

	default:
		return nil, fmt.Errorf("modo de particionamento desconhecido: %q", part.Mode)
	}
}

// hashRoute garante co-localização: linhas com a mesma chave de agrupamento
// caem sempre na mesma partição, independentemente da partição de origem.
func hashRoute(outputs []*columnar.Batch, columns []string, partitions int) ([]*columnar.Batch, error) {
	var schema columnar.Schema
	for _, out := range outputs {
		if out != nil && len(out.Columns) > 0 {
			schema = out.Schema()
			break
		}
	}
	if schema == nil {
		return make([]*columnar.Batch, partitions), nil
	}

	routed := make([]*columnar.Batch, partitions)
	for i := range routed {
		routed[i] = columnar.NewBatch(schema)
	}

	for _, out := range outputs {
		if out == nil {
			continue
		}
		keyCols := make([]*columnar.Column, 0, len(columns))
		for _, name := range columns {
			col, ok := out.Column(name)
			if !ok {
				return nil, fmt.Errorf("coluna de particionamento %q ausente no batch", name)
			}
			keyCols = append(keyCols, col)
		}
		for row := 0; row < out.RowCount; row++ {
			values := make([]columnar.Value, 0, len(keyCols))
			for _, col := range keyCols {
				v, err := col.Get(row)
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
			key := operator.MakeGroupKey(values)
			target := int(murmur3.Sum64([]byte(key)) % uint64(partitions))
			if err := routed[target].CopyRow(out, row); err != nil {
				return nil, err
			}
		}
	}
	return routed, nil
}

// concat empilha batches com o mesmo schema em um único batch.
func concat(batches []*columnar.Batch) (*columnar.Batch, error) {
	var result *columnar.Batch
	for _, b := range batches {
		if b == nil || b.RowCount == 0 {
			if result == nil && b != nil {
				result = columnar.NewBatch(b.Schema())
			}
			continue
		}
		if result == nil {
			result = columnar.NewBatch(b.Schema())
		}
		for row := 0; row < b.RowCount; row++ {
			if err := result.CopyRow(b, row); err != nil {
				return nil, err
			}
		}
	}
	if result == nil {
		result = columnar.NewBatch(nil)
	}
	return result, nil
}

func emptyLike(b *columnar.Batch) *columnar.Batch {
	if b == nil {
		return columnar.NewBatch(nil)
	}
	return columnar.NewBatch(b.Schema())
}

func cloneBatch(b *columnar.Batch) *columnar.Batch {
	if b == nil {
		return nil
	}
	clone := &columnar.Batch{RowCount: b.RowCount}
	for _, col := range b.Columns {
		clone.Columns = append(clone.Columns, col.Clone())
	}
	return clone
}
