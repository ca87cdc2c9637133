package columnar

import "fmt"

// ColumnSchema descreve nome e tipo de uma coluna.
type ColumnSchema struct {
	Name string   `json:"name"`
	Type DataType `json:"type"`
}

// Schema é a lista ordenada de colunas de um batch.
type Schema []ColumnSchema

// Names devolve os nomes das colunas na ordem do schema.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for _, col := range s {
		names = append(names, col.Name)
	}
	return names
}

// Batch representa um bloco colunar de linhas trocado entre operadores.
// Invariante: toda coluna tem exatamente RowCount valores.
type Batch struct {
	Columns  []*Column `json:"columns"`
	RowCount int       `json:"rowCount"`
}

// NewBatch cria um batch vazio com as colunas do schema informado.
func NewBatch(schema Schema) *Batch {
	cols := make([]*Column, 0, len(schema))
	for _, cs := range schema {
		cols = append(cols, NewColumn(cs.Name, cs.Type))
	}
	return &Batch{Columns: cols}
}

// Schema devolve o schema ordenado do batch.
func (b *Batch) Schema() Schema {
	schema := make(Schema, 0, len(b.Columns))
	for _, col := range b.Columns {
		schema = append(schema, ColumnSchema{Name: col.Name, Type: col.Type})
	}
	return schema
}

// Column localiza uma coluna pelo nome.
func (b *Batch) Column(name string) (*Column, bool) {
	for _, col := range b.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return nil, false
}

// Value lê o valor de uma coluna em uma linha específica.
func (b *Batch) Value(column string, row int) (Value, error) {
	col, ok := b.Column(column)
	if !ok {
		return Value{}, fmt.Errorf("coluna %s não encontrada", column)
	}
	return col.Get(row)
}

// AppendRow adiciona uma linha com um valor por coluna, na ordem do schema.
func (b *Batch) AppendRow(values ...Value) error {
	if len(values) != len(b.Columns) {
		return fmt.Errorf("esperava %d valores, recebeu %d", len(b.Columns), len(values))
	}
	for i, col := range b.Columns {
		if err := col.Append(values[i]); err != nil {
			return err
		}
	}
	b.RowCount++
	return nil
}

// CopyRow copia uma linha inteira de outro batch com o mesmo schema.
func (b *Batch) CopyRow(src *Batch, row int) error {
	for _, col := range b.Columns {
		value, err := src.Value(col.Name, row)
		if err != nil {
			return err
		}
		if err := col.Append(value); err != nil {
			return err
		}
	}
	b.RowCount++
	return nil
}

// ApproxBytes estima o tamanho total do batch em memória.
func (b *Batch) ApproxBytes() int64 {
	var total int64
	for _, col := range b.Columns {
		total += col.ApproxBytes()
	}
	return total
}

// Validate confere o invariante de contagem de linhas por coluna.
func (b *Batch) Validate() error {
	for _, col := range b.Columns {
		if col.Len() != b.RowCount {
			return fmt.Errorf("coluna %s tem %d valores, batch declara %d linhas", col.Name, col.Len(), b.RowCount)
		}
	}
	return nil
}
