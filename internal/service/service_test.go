package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jonatan852/querygrid/internal/history"
	"github.com/Jonatan852/querygrid/internal/operator"
	"github.com/Jonatan852/querygrid/internal/protocol"
	"github.com/Jonatan852/querygrid/internal/registry"
	"github.com/Jonatan852/querygrid/internal/storage"
	"github.com/Jonatan852/querygrid/pkg/columnar"
)

// inlineDispatcher executa os estágios no próprio processo, um store por
// worker.
type inlineDispatcher struct {
	stores map[string]*storage.Store
}

func (d *inlineDispatcher) ExecuteStage(_ context.Context, worker registry.WorkerInfo, req protocol.StageRequest) (protocol.StageResponse, error) {
	store := d.stores[worker.WorkerID]
	if store == nil {
		store = storage.NewStore()
	}
	op, err := operator.Build(req.Stage, store)
	if err != nil {
		return protocol.StageResponse{}, err
	}
	out, stats, err := op.Execute(req.Input)
	if err != nil {
		return protocol.StageResponse{WorkerID: worker.WorkerID, Error: err.Error()}, nil
	}
	return protocol.StageResponse{WorkerID: worker.WorkerID, Batch: out, Stats: stats}, nil
}

func seededStore(t *testing.T, rows map[string]float64) *storage.Store {
	t.Helper()
	store := storage.NewStore()
	schema := columnar.Schema{
		{Name: "region", Type: columnar.TypeString},
		{Name: "amount", Type: columnar.TypeFloat},
	}
	require.NoError(t, store.RegisterTable("sales", schema))
	// Uma linha por região para manter os valores determinísticos.
	ingest := make([]storage.Row, 0, len(rows))
	for region, amount := range rows {
		ingest = append(ingest, storage.Row{
			"region": columnar.NewStringValue(region),
			"amount": columnar.NewFloatValue(amount),
		})
	}
	_, err := store.Ingest("sales", ingest)
	require.NoError(t, err)
	return store
}

func newTestService(t *testing.T, stores map[string]*storage.Store) (*Service, *history.MemoryStore) {
	t.Helper()
	reg := registry.New()
	t.Cleanup(reg.Close)
	for id := range stores {
		reg.Register(id, "http://"+id+":8081", registry.Resources{}, nil)
	}
	hist := history.NewMemoryStore()
	return New(reg, &inlineDispatcher{stores: stores}, hist), hist
}

func TestSubmitFailsFastWithoutWorkers(t *testing.T) {
	svc, hist := newTestService(t, nil)

	query := svc.Submit(context.Background(), "SELECT region FROM sales")
	resp, err := query.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "FAILED", resp.Status)
	assert.Contains(t, resp.ErrorMessage, "nenhum worker")
	assert.Empty(t, svc.ListRunning())

	rec, err := hist.Get(context.Background(), resp.QueryID)
	require.NoError(t, err)
	assert.Equal(t, "FAILED", rec.State)
}

func TestSubmitProjectionEndToEnd(t *testing.T) {
	svc, hist := newTestService(t, map[string]*storage.Store{
		"w1": seededStore(t, map[string]float64{"norte": 10, "sul": 20}),
	})

	query := svc.Submit(context.Background(), "SELECT region, amount FROM sales")
	resp, err := query.Wait(context.Background())
	require.NoError(t, err)

	require.Equal(t, "COMPLETED", resp.Status, resp.ErrorMessage)
	assert.Equal(t, []string{"region", "amount"}, resp.Columns)
	assert.Equal(t, 2, resp.RowsReturned)
	assert.GreaterOrEqual(t, resp.ExecutionTimeMs, int64(0))

	rec, err := hist.Get(context.Background(), resp.QueryID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", rec.State)
	assert.Equal(t, 2, rec.RowCount)
	states := make([]string, 0, len(rec.Transitions))
	for _, tr := range rec.Transitions {
		states = append(states, tr.State)
	}
	assert.Equal(t, []string{"SUBMITTED", "RUNNING", "COMPLETED"}, states)
}

func TestSubmitGroupByAcrossWorkers(t *testing.T) {
	svc, _ := newTestService(t, map[string]*storage.Store{
		"w1": seededStore(t, map[string]float64{"norte": 10, "sul": 4}),
		"w2": seededStore(t, map[string]float64{"norte": 20, "oeste": 7}),
	})

	query := svc.Submit(context.Background(), "SELECT region, SUM(amount) AS total, COUNT(*) AS vendas FROM sales GROUP BY region")
	resp, err := query.Wait(context.Background())
	require.NoError(t, err)

	require.Equal(t, "COMPLETED", resp.Status, resp.ErrorMessage)
	require.Equal(t, []string{"region", "total", "vendas"}, resp.Columns)
	require.Equal(t, 3, resp.RowsReturned)

	totals := map[string]float64{}
	counts := map[string]int64{}
	for _, row := range resp.Rows {
		region := row[0].(string)
		totals[region] = row[1].(float64)
		counts[region] = row[2].(int64)
	}
	assert.InDelta(t, 30.0, totals["norte"], 1e-9)
	assert.EqualValues(t, 2, counts["norte"])
	assert.InDelta(t, 4.0, totals["sul"], 1e-9)
	assert.InDelta(t, 7.0, totals["oeste"], 1e-9)
}

func TestSubmitSyntaxErrorFails(t *testing.T) {
	svc, _ := newTestService(t, map[string]*storage.Store{
		"w1": seededStore(t, map[string]float64{"norte": 10}),
	})

	query := svc.Submit(context.Background(), "SELEC quebrado FROM")
	resp, err := query.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "FAILED", resp.Status)
	assert.NotEmpty(t, resp.ErrorMessage)
}

func TestSubmitUnsupportedFallsBackToSimplePlan(t *testing.T) {
	svc, _ := newTestService(t, map[string]*storage.Store{
		"w1": storage.NewStore(),
	})

	// JOIN não é convertível; o plano simples faz scan da primeira tabela.
	query := svc.Submit(context.Background(), "SELECT a.id FROM pedidos JOIN clientes ON pedidos.cid = clientes.id")
	resp, err := query.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "COMPLETED", resp.Status, resp.ErrorMessage)
	assert.Greater(t, resp.RowsReturned, 0)
}

func TestCancelUnknownQuery(t *testing.T) {
	svc, _ := newTestService(t, nil)
	assert.False(t, svc.Cancel("nao-existe"))
}

func TestListRecentReflectsSubmissions(t *testing.T) {
	svc, _ := newTestService(t, map[string]*storage.Store{
		"w1": seededStore(t, map[string]float64{"norte": 10}),
	})

	first := svc.Submit(context.Background(), "SELECT region FROM sales")
	_, err := first.Wait(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	recent, err := svc.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, first.QueryID, recent[0].QueryID)
}
