package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jonatan852/querygrid/pkg/columnar"
)

func salesSchema() columnar.Schema {
	return columnar.Schema{
		{Name: "category", Type: columnar.TypeString},
		{Name: "amount", Type: columnar.TypeFloat},
	}
}

func TestIngestAndScan(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.RegisterTable("sales", salesSchema()))
	require.ErrorIs(t, s.RegisterTable("sales", salesSchema()), ErrTableExists)

	_, err := s.Ingest("missing", nil)
	require.ErrorIs(t, err, ErrTableNotFound)

	n, err := s.Ingest("sales", []Row{
		{"category": columnar.NewStringValue("A"), "amount": columnar.NewFloatValue(10)},
		{"category": columnar.NewStringValue("B")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	batch, err := s.Scan("sales", nil)
	require.NoError(t, err)
	require.Equal(t, 2, batch.RowCount)

	missing, err := batch.Value("amount", 1)
	require.NoError(t, err)
	assert.True(t, missing.IsNull(), "coluna ausente na ingestão vira NULL")
}

func TestScanProjectsRequestedColumns(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.RegisterTable("sales", salesSchema()))
	_, err := s.Ingest("sales", []Row{
		{"category": columnar.NewStringValue("A"), "amount": columnar.NewFloatValue(10)},
	})
	require.NoError(t, err)

	batch, err := s.Scan("sales", []string{"amount"})
	require.NoError(t, err)
	require.Len(t, batch.Columns, 1)
	assert.Equal(t, "amount", batch.Columns[0].Name)
}

func TestScanSynthesizesUnknownTable(t *testing.T) {
	s := NewStore()
	batch, err := s.Scan("orders", []string{"order_id", "status"})
	require.NoError(t, err)
	require.Greater(t, batch.RowCount, 0)

	id, ok := batch.Column("order_id")
	require.True(t, ok)
	assert.Equal(t, columnar.TypeInt, id.Type, "coluna que sugere identificador recebe conteúdo numérico")

	status, ok := batch.Column("status")
	require.True(t, ok)
	assert.Equal(t, columnar.TypeString, status.Type)
}
