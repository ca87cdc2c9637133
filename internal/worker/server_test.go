package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jonatan852/querygrid/internal/protocol"
	"github.com/Jonatan852/querygrid/internal/storage"
	"github.com/Jonatan852/querygrid/pkg/plan"
)

func postJSON(t *testing.T, server *httptest.Server, path string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func newWorkerServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer("w-teste", storage.NewStore()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func loadSales(t *testing.T, srv *httptest.Server) {
	t.Helper()
	resp := postJSON(t, srv, "/data/load", map[string]interface{}{
		"table": "sales",
		"schema": map[string]interface{}{
			"columns": []map[string]string{
				{"name": "region", "type": "STRING"},
				{"name": "amount", "type": "FLOAT"},
			},
		},
		"rows": []map[string]interface{}{
			{"region": "norte", "amount": 10.0},
			{"region": "sul", "amount": 25.5},
			{"region": "norte", "amount": 4.5},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loaded struct {
		Table      string `json:"table"`
		RowsLoaded int    `json:"rowsLoaded"`
	}
	decodeInto(t, resp, &loaded)
	assert.Equal(t, 3, loaded.RowsLoaded)
}

func TestServerDataLoadAndScan(t *testing.T) {
	srv := newWorkerServer(t)
	loadSales(t, srv)

	resp := postJSON(t, srv, "/execute", protocol.StageRequest{
		QueryID: "q1",
		StageID: 1,
		Stage: plan.ExecutionStage{
			ID:      1,
			Kind:    plan.StageScan,
			Table:   "sales",
			Columns: []string{"region", "amount"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stage protocol.StageResponse
	decodeInto(t, resp, &stage)
	require.Empty(t, stage.Error)
	assert.Equal(t, "w-teste", stage.WorkerID)
	require.NotNil(t, stage.Batch)
	assert.Equal(t, 3, stage.Batch.RowCount)
	assert.Equal(t, 3, stage.Stats.OutputRows)
}

func TestServerExecuteFilterOverWire(t *testing.T) {
	srv := newWorkerServer(t)
	loadSales(t, srv)

	var scanned protocol.StageResponse
	decodeInto(t, postJSON(t, srv, "/execute", protocol.StageRequest{
		QueryID: "q2",
		StageID: 1,
		Stage:   plan.ExecutionStage{ID: 1, Kind: plan.StageScan, Table: "sales"},
	}), &scanned)
	require.Empty(t, scanned.Error)

	filter := plan.FilterSpec{Column: "amount", Op: plan.OpGt, Value: 5}
	var filtered protocol.StageResponse
	decodeInto(t, postJSON(t, srv, "/execute", protocol.StageRequest{
		QueryID: "q2",
		StageID: 2,
		Stage:   plan.ExecutionStage{ID: 2, Kind: plan.StageFilter, Upstream: 1, Filter: &filter},
		Input:   scanned.Batch,
	}), &filtered)

	require.Empty(t, filtered.Error)
	require.NotNil(t, filtered.Batch)
	assert.Equal(t, 2, filtered.Batch.RowCount)
}

func TestServerExecuteReportsOperatorError(t *testing.T) {
	srv := newWorkerServer(t)

	// FILTER sem predicado é rejeitado pelo operador, não pelo transporte.
	resp := postJSON(t, srv, "/execute", protocol.StageRequest{
		QueryID: "q3",
		StageID: 1,
		Stage:   plan.ExecutionStage{ID: 1, Kind: plan.StageFilter},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stage protocol.StageResponse
	decodeInto(t, resp, &stage)
	assert.NotEmpty(t, stage.Error)
	assert.Nil(t, stage.Batch)
}

func TestServerDataLoadRejectsMissingSchema(t *testing.T) {
	srv := newWorkerServer(t)

	resp := postJSON(t, srv, "/data/load", map[string]interface{}{
		"table": "nova",
		"rows":  []map[string]interface{}{{"x": 1.0}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAgentRegisterAndHeartbeat(t *testing.T) {
	var registrations, heartbeats int
	mux := http.NewServeMux()
	mux.HandleFunc("/workers/register", func(w http.ResponseWriter, r *http.Request) {
		registrations++
		_ = json.NewEncoder(w).Encode(registerResponse{Registered: true, AssignedWorkerID: "w-7"})
	})
	mux.HandleFunc("/workers/w-7/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		heartbeats++
		// O primeiro heartbeat não é reconhecido, simulando um coordinator
		// reiniciado; o agente deve se registrar de novo.
		_ = json.NewEncoder(w).Encode(heartbeatResponse{Acknowledged: heartbeats > 1, ExpectedStatus: "HEALTHY"})
	})
	coordinator := httptest.NewServer(mux)
	t.Cleanup(coordinator.Close)

	agent := NewAgent(coordinator.URL, "w", "http://localhost:8081")
	ctx := context.Background()

	require.NoError(t, agent.register(ctx))
	assert.Equal(t, "w-7", agent.WorkerID())

	require.NoError(t, agent.heartbeat(ctx))
	assert.Equal(t, 2, registrations, "heartbeat não reconhecido deve re-registrar")

	require.NoError(t, agent.heartbeat(ctx))
	assert.Equal(t, 2, registrations)
}
