package protocol

import (
	"github.com/Jonatan852/querygrid/internal/operator"
	"github.com/Jonatan852/querygrid/pkg/columnar"
	"github.com/Jonatan852/querygrid/pkg/plan"
)

// StageRequest contém a fatia do plano que um worker deve executar e a
// referência ao batch de entrada da partição (nil para scans).
type StageRequest struct {
	QueryID string              `json:"queryId"`
	StageID int                 `json:"stageId"`
	Attempt int                 `json:"attempt"`
	Stage   plan.ExecutionStage `json:"stage"`
	Input   *columnar.Batch     `json:"input,omitempty"`
}

// StageResponse devolve o batch produzido e as estatísticas do operador.
// Error preenchido indica falha reportada pelo worker.
type StageResponse struct {
	WorkerID string          `json:"workerId,omitempty"`
	Batch    *columnar.Batch `json:"batch,omitempty"`
	Stats    operator.Stats  `json:"stats"`
	Error    string          `json:"error,omitempty"`
}
