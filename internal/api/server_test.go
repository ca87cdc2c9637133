package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jonatan852/querygrid/internal/history"
	"github.com/Jonatan852/querygrid/internal/operator"
	"github.com/Jonatan852/querygrid/internal/protocol"
	"github.com/Jonatan852/querygrid/internal/registry"
	"github.com/Jonatan852/querygrid/internal/service"
	"github.com/Jonatan852/querygrid/internal/storage"
	"github.com/Jonatan852/querygrid/pkg/columnar"
)

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

func newCoordinator(t *testing.T, stores map[string]*storage.Store) *httptest.Server {
	t.Helper()
	reg := registry.New()
	t.Cleanup(reg.Close)
	for id := range stores {
		reg.Register(id, "http://"+id+":8081", registry.Resources{}, nil)
	}
	svc := service.New(reg, &inlineDispatcher{stores: stores}, history.NewMemoryStore())
	srv := httptest.NewServer(NewServer(reg, svc).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func salesStore(t *testing.T) *storage.Store {
	t.Helper()
	store := storage.NewStore()
	require.NoError(t, store.RegisterTable("sales", columnar.Schema{
		{Name: "region", Type: columnar.TypeString},
		{Name: "amount", Type: columnar.TypeFloat},
	}))
	_, err := store.Ingest("sales", []storage.Row{
		{"region": columnar.NewStringValue("norte"), "amount": columnar.NewFloatValue(10)},
		{"region": columnar.NewStringValue("sul"), "amount": columnar.NewFloatValue(20)},
	})
	require.NoError(t, err)
	return store
}

func TestWorkerRegistrationFlow(t *testing.T) {
	srv := newCoordinator(t, nil)

	var reg struct {
		Registered       bool   `json:"registered"`
		AssignedWorkerID string `json:"assignedWorkerId"`
	}
	decodeInto(t, postJSON(t, srv, "/workers/register", map[string]interface{}{
		"requestedId": "w",
		"endpoint":    "http://w:8081",
	}), &reg)
	require.True(t, reg.Registered)
	assert.Equal(t, "w", reg.AssignedWorkerID)

	// Mesmo ID requisitado recebe sufixo, nunca colide.
	var reg2 struct {
		AssignedWorkerID string `json:"assignedWorkerId"`
	}
	decodeInto(t, postJSON(t, srv, "/workers/register", map[string]interface{}{
		"requestedId": "w",
		"endpoint":    "http://w2:8081",
	}), &reg2)
	assert.Equal(t, "w-1", reg2.AssignedWorkerID)

	var hb struct {
		Acknowledged   bool   `json:"acknowledged"`
		ExpectedStatus string `json:"expectedStatus"`
	}
	decodeInto(t, postJSON(t, srv, "/workers/w/heartbeat", map[string]interface{}{}), &hb)
	assert.True(t, hb.Acknowledged)
	assert.Equal(t, "HEALTHY", hb.ExpectedStatus)

	decodeInto(t, postJSON(t, srv, "/workers/fantasma/heartbeat", map[string]interface{}{}), &hb)
	assert.False(t, hb.Acknowledged)

	resp, err := http.Get(srv.URL + "/workers/?status=HEALTHY")
	require.NoError(t, err)
	var list struct {
		Workers []registry.WorkerInfo `json:"workers"`
	}
	decodeInto(t, resp, &list)
	assert.Len(t, list.Workers, 2)

	var stats registry.ClusterStats
	resp, err = http.Get(srv.URL + "/cluster/stats")
	require.NoError(t, err)
	decodeInto(t, resp, &stats)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Healthy)
}

func TestQuerySubmitOverHTTP(t *testing.T) {
	srv := newCoordinator(t, map[string]*storage.Store{"w1": salesStore(t)})

	var resp service.QueryResponse
	decodeInto(t, postJSON(t, srv, "/query", map[string]string{
		"sql": "SELECT region, amount FROM sales",
	}), &resp)

	require.Equal(t, "COMPLETED", resp.Status, resp.ErrorMessage)
	assert.Equal(t, 2, resp.RowsReturned)
	require.NotEmpty(t, resp.QueryID)

	statusResp, err := http.Get(srv.URL + "/query/" + resp.QueryID)
	require.NoError(t, err)
	var rec history.Record
	decodeInto(t, statusResp, &rec)
	assert.Equal(t, "COMPLETED", rec.State)

	recentResp, err := http.Get(srv.URL + "/queries/recent?limit=5")
	require.NoError(t, err)
	var recent struct {
		Queries []history.Record `json:"queries"`
	}
	decodeInto(t, recentResp, &recent)
	require.Len(t, recent.Queries, 1)
	assert.Equal(t, resp.QueryID, recent.Queries[0].QueryID)
}

func TestQuerySubmitWithoutWorkersFails(t *testing.T) {
	srv := newCoordinator(t, nil)

	var resp service.QueryResponse
	decodeInto(t, postJSON(t, srv, "/query", map[string]string{
		"sql": "SELECT region FROM sales",
	}), &resp)

	assert.Equal(t, "FAILED", resp.Status)
	assert.NotEmpty(t, resp.ErrorMessage)
}

func TestQueryPlanVisualization(t *testing.T) {
	srv := newCoordinator(t, map[string]*storage.Store{"w1": salesStore(t)})

	resp, err := http.Get(srv.URL + "/query/plan?sql=" + "SELECT+region%2C+SUM%28amount%29+FROM+sales+GROUP+BY+region")
	require.NoError(t, err)
	var decoded struct {
		Stages []map[string]interface{} `json:"stages"`
	}
	decodeInto(t, resp, &decoded)
	assert.NotEmpty(t, decoded.Stages)

	dotResp, err := http.Get(srv.URL + "/query/plan?format=dot&sql=SELECT+region+FROM+sales")
	require.NoError(t, err)
	defer dotResp.Body.Close()
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(dotResp.Body)
	assert.Contains(t, buf.String(), "digraph")
}

func TestUnknownQueryStatusIs404(t *testing.T) {
	srv := newCoordinator(t, nil)
	resp, err := http.Get(srv.URL + "/query/nao-existe")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
