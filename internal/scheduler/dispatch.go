package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Jonatan852/querygrid/internal/protocol"
	"github.com/Jonatan852/querygrid/internal/registry"
)

// HTTPDispatcher envia estágios ao endpoint /execute de cada worker. O
// timeout fica por conta do contexto, já limitado pelo scheduler.
type HTTPDispatcher struct {
	client *http.Client
}

func NewHTTPDispatcher() *HTTPDispatcher {
	return &HTTPDispatcher{client: &http.Client{}}
}

func (d *HTTPDispatcher) ExecuteStage(ctx context.Context, worker registry.WorkerInfo, req protocol.StageRequest) (protocol.StageResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return protocol.StageResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, worker.Endpoint+"/execute", bytes.NewReader(body))
	if err != nil {
		return protocol.StageResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return protocol.StageResponse{}, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return protocol.StageResponse{}, fmt.Errorf("worker %s respondeu %d", worker.WorkerID, httpResp.StatusCode)
	}

	var resp protocol.StageResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return protocol.StageResponse{}, err
	}
	return resp, nil
}
