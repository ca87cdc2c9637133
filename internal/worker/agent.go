package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Jonatan852/querygrid/internal/registry"
	"github.com/Jonatan852/querygrid/pkg/qglog"
)

// HeartbeatInterval é bem menor que o timeout do registry, para que um
// worker saudável nunca seja varrido por atraso de relógio.
const HeartbeatInterval = 15 * time.Second

// Agent mantém o worker visível no plano de controle: registra-se na
// subida e envia heartbeats periódicos até o contexto encerrar.
type Agent struct {
	coordinatorURL string
	requestedID    string
	endpoint       string
	client         *http.Client

	workerID string
}

func NewAgent(coordinatorURL, requestedID, endpoint string) *Agent {
	return &Agent{
		coordinatorURL: coordinatorURL,
		requestedID:    requestedID,
		endpoint:       endpoint,
		client:         &http.Client{Timeout: 10 * time.Second},
	}
}

// WorkerID é o ID atribuído pelo coordinator; vazio antes do registro.
func (a *Agent) WorkerID() string {
	return a.workerID
}

// Run registra o worker e entra no loop de heartbeat. Bloqueia até o
// contexto ser cancelado; na saída tenta o deregistro, melhor esforço.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return fmt.Errorf("registro no coordinator falhou: %w", err)
	}
	qglog.Zero.Info().
		Str("worker", a.workerID).
		Str("coordinator", a.coordinatorURL).
		Msg("worker registrado")

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := a.heartbeat(ctx); err != nil {
				qglog.Zero.Warn().Str("worker", a.workerID).Err(err).Msg("heartbeat falhou")
			}
		case <-ctx.Done():
			a.deregister()
			return ctx.Err()
		}
	}
}

type registerRequest struct {
	RequestedID string             `json:"requestedId"`
	Endpoint    string             `json:"endpoint"`
	Resources   registry.Resources `json:"resources"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

type registerResponse struct {
	Registered       bool   `json:"registered"`
	AssignedWorkerID string `json:"assignedWorkerId"`
}

func (a *Agent) register(ctx context.Context) error {
	var resp registerResponse
	err := a.post(ctx, "/workers/register", registerRequest{
		RequestedID: a.requestedID,
		Endpoint:    a.endpoint,
		Resources:   currentResources(),
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.Registered || resp.AssignedWorkerID == "" {
		return fmt.Errorf("coordinator recusou o registro")
	}
	a.workerID = resp.AssignedWorkerID
	return nil
}

type heartbeatRequest struct {
	Resources registry.Resources `json:"resources"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
}

type heartbeatResponse struct {
	Acknowledged   bool   `json:"acknowledged"`
	ExpectedStatus string `json:"expectedStatus"`
}

func (a *Agent) heartbeat(ctx context.Context) error {
	var resp heartbeatResponse
	err := a.post(ctx, "/workers/"+a.workerID+"/heartbeat", heartbeatRequest{
		Resources: currentResources(),
	}, &resp)
	if err != nil {
		return err
	}
	// Coordinator reiniciado perde o registro em memória; registrar de novo
	// recoloca o worker no conjunto saudável.
	if !resp.Acknowledged {
		qglog.Zero.Info().Str("worker", a.workerID).Msg("heartbeat não reconhecido, registrando novamente")
		return a.register(ctx)
	}
	return nil
}

func (a *Agent) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.coordinatorURL+"/workers/"+a.workerID, nil)
	if err != nil {
		return
	}
	resp, err := a.client.Do(req)
	if err != nil {
		qglog.Zero.Warn().Str("worker", a.workerID).Err(err).Msg("deregistro falhou")
		return
	}
	_ = resp.Body.Close()
}

func (a *Agent) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.coordinatorURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("coordinator respondeu %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func currentResources() registry.Resources {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return registry.Resources{
		CPUMillis:   int64(runtime.NumCPU()) * 1000,
		MemoryBytes: int64(mem.Sys),
	}
}
