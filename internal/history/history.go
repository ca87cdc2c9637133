package history

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indica que a query nunca foi registrada no histórico.
var ErrNotFound = errors.New("history: query não encontrada")

// Transition é um passo do ciclo de vida, com o instante em que ocorreu.
type Transition struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// Record é o registro de uma query no histórico: SQL original, estado
// corrente e a trilha completa de transições.
type Record struct {
	QueryID     string       `json:"queryId"`
	SQL         string       `json:"sql"`
	State       string       `json:"state"`
	SubmittedAt time.Time    `json:"submittedAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Transitions []Transition `json:"transitions"`
	Error       string       `json:"error,omitempty"`
	RowCount    int          `json:"rowCount"`
}

// Store persiste o histórico de queries. A implementação em memória atende
// um coordinator único; a em etcd sobrevive a reinícios.
type Store interface {
	RecordSubmission(ctx context.Context, queryID, sql string, at time.Time) error
	RecordTransition(ctx context.Context, queryID, state string, at time.Time) error
	RecordOutcome(ctx context.Context, queryID string, rowCount int, errMsg string) error
	Get(ctx context.Context, queryID string) (Record, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
}
