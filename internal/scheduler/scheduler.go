package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/Jonatan852/querygrid/internal/protocol"
	"github.com/Jonatan852/querygrid/internal/registry"
	"github.com/Jonatan852/querygrid/pkg/columnar"
	"github.com/Jonatan852/querygrid/pkg/plan"
	"github.com/Jonatan852/querygrid/pkg/qglog"
)

// StageRetryLimit é o número de novas tentativas por estágio, cada uma em um
// worker saudável diferente. StageTimeout limita cada despacho remoto.
const (
	StageRetryLimit = 2
	StageTimeout    = 30 * time.Second
	retryBackoff    = 100 * time.Millisecond
)

var (
	// ErrNoHealthyWorkers faz a query falhar imediatamente, sem despacho.
	ErrNoHealthyWorkers = errors.New("scheduler: nenhum worker saudável disponível")
	// ErrAggregationMismatch indica partições com schemas irreconciliáveis.
	ErrAggregationMismatch = errors.New("scheduler: partições com schemas incompatíveis")
)

// QueryState é o ciclo de vida de uma query agendada.
type QueryState string

const (
	StateSubmitted QueryState = "SUBMITTED"
	StateRunning   QueryState = "RUNNING"
	StateCompleted QueryState = "COMPLETED"
	StateFailed    QueryState = "FAILED"
	StateCancelled QueryState = "CANCELLED"
)

// Terminal indica estados dos quais não há transição.
func (s QueryState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// QueryExecutionResult é o valor final de uma execução: o scheduler nunca
// propaga panics nem erros além da sua fronteira.
type QueryExecutionResult struct {
	QueryID  string          `json:"queryId"`
	Success  bool            `json:"success"`
	Columns  []string        `json:"columns,omitempty"`
	Rows     [][]interface{} `json:"rows,omitempty"`
	RowCount int             `json:"rowCount"`
	Error    string          `json:"error,omitempty"`
	Elapsed  time.Duration   `json:"elapsed"`
}

// Dispatcher abstrai a chamada RPC ao endpoint do worker.
type Dispatcher interface {
	ExecuteStage(ctx context.Context, worker registry.WorkerInfo, req protocol.StageRequest) (protocol.StageResponse, error)
}

// TransitionFunc observa as transições de estado (usada pelo histórico).
type TransitionFunc func(queryID string, state QueryState)

// Scheduler despacha estágios para workers saudáveis, tolera falhas com
// retry limitado e agrega os resultados parciais.
type Scheduler struct {
	registry      *registry.Registry
	dispatcher    Dispatcher
	onTransition  TransitionFunc
	maxPartitions int
	stageTimeout  time.Duration
}

// Option configura o scheduler na construção.
type Option func(*Scheduler)

// WithTransitionFunc registra o observador de transições.
func WithTransitionFunc(fn TransitionFunc) Option {
	return func(s *Scheduler) { s.onTransition = fn }
}

// WithMaxPartitions limita o paralelismo por estágio.
func WithMaxPartitions(n int) Option {
	return func(s *Scheduler) { s.maxPartitions = n }
}

// WithStageTimeout ajusta o timeout de cada despacho remoto.
func WithStageTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.stageTimeout = d }
}

func New(reg *registry.Registry, dispatcher Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:      reg,
		dispatcher:    dispatcher,
		maxPartitions: 4,
		stageTimeout:  StageTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execution é o futuro devolvido por ExecuteQuery: Done fecha quando a query
// termina (sucesso, falha ou cancelamento) e Result fica disponível.
type Execution struct {
	QueryID string

	mu     sync.Mutex
	state  QueryState
	result QueryExecutionResult

	cancel context.CancelFunc
	done   chan struct{}
	notify TransitionFunc
}

// State devolve o estado corrente.
func (e *Execution) State() QueryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done fecha quando a execução atinge um estado terminal.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Result é válido depois que Done fechou.
func (e *Execution) Result() QueryExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Wait bloqueia até o término ou o contexto expirar.
func (e *Execution) Wait(ctx context.Context) (QueryExecutionResult, error) {
	select {
	case <-e.done:
		return e.Result(), nil
	case <-ctx.Done():
		return QueryExecutionResult{}, ctx.Err()
	}
}

// Cancel transiciona para CANCELLED se a query ainda está SUBMITTED ou
// RUNNING. Chamadas remotas em voo são canceladas por contexto, melhor
// esforço: nenhum estágio novo é despachado e nenhum resultado é aguardado.
func (e *Execution) Cancel() {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.cancel()
}

// transition aplica a mudança de estado respeitando estados terminais.
func (e *Execution) transition(state QueryState) bool {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return false
	}
	e.state = state
	e.mu.Unlock()
	if e.notify != nil {
		e.notify(e.QueryID, state)
	}
	return true
}

func (e *Execution) finish(result QueryExecutionResult, state QueryState) {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return
	}
	e.state = state
	e.result = result
	e.mu.Unlock()
	if e.notify != nil {
		e.notify(e.QueryID, state)
	}
	close(e.done)
}

// ExecuteQuery inicia a execução assíncrona do plano e devolve o futuro.
func (s *Scheduler) ExecuteQuery(ctx context.Context, p *plan.ExecutionPlan) *Execution {
	runCtx, cancel := context.WithCancel(ctx)
	exec := &Execution{
		QueryID: p.QueryID,
		state:   StateSubmitted,
		cancel:  cancel,
		done:    make(chan struct{}),
		notify:  s.onTransition,
	}
	if s.onTransition != nil {
		s.onTransition(p.QueryID, StateSubmitted)
	}

	go s.run(runCtx, exec, p)
	return exec
}

func (s *Scheduler) run(ctx context.Context, exec *Execution, p *plan.ExecutionPlan) {
	start := time.Now()
	defer exec.cancel()
	defer func() {
		// Falha interna inesperada aborta apenas esta query; o registry e as
		// demais execuções concorrentes seguem intactos.
		if r := recover(); r != nil {
			qglog.Zero.Error().Str("query", p.QueryID).Interface("panic", r).Msg("panic na execução da query")
			exec.finish(QueryExecutionResult{
				QueryID: p.QueryID,
				Error:   fmt.Sprintf("falha interna: %v", r),
				Elapsed: time.Since(start),
			}, StateFailed)
		}
	}()

	fail := func(err error) {
		state := StateFailed
		if errors.Is(err, context.Canceled) {
			state = StateCancelled
		}
		exec.finish(QueryExecutionResult{
			QueryID: p.QueryID,
			Error:   err.Error(),
			Elapsed: time.Since(start),
		}, state)
	}

	if err := p.Validate(); err != nil {
		fail(err)
		return
	}

	healthy := s.registry.GetHealthyWorkers()
	if len(healthy) == 0 {
		fail(ErrNoHealthyWorkers)
		return
	}
	exec.transition(StateRunning)

	partitions := len(healthy)
	if partitions > s.maxPartitions {
		partitions = s.maxPartitions
	}

	final, err := s.runStages(ctx, p, partitions)
	if err != nil {
		fail(err)
		return
	}

	columns, rows := batchToRows(final)
	exec.finish(QueryExecutionResult{
		QueryID:  p.QueryID,
		Success:  true,
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
		Elapsed:  time.Since(start),
	}, StateCompleted)
}

// runStages executa os estágios em ordem de dependência: um estágio só
// começa depois que todas as partições do upstream produziram saída.
func (s *Scheduler) runStages(ctx context.Context, p *plan.ExecutionPlan, partitions int) (*columnar.Batch, error) {
	// inputs[i] é o batch da partição i do estágio corrente.
	inputs := make([]*columnar.Batch, partitions)
	var upstream *plan.ExecutionStage

	for i := range p.Stages {
		stage := p.Stages[i]
		if stage.Kind == plan.StageShuffle {
			// SHUFFLE final roda no coordinator: reunião das partições com
			// having, ordenação e limite.
			merged, err := s.gather(stage, upstream, inputs)
			if err != nil {
				return nil, err
			}
			inputs = []*columnar.Batch{merged}
			upstream = &p.Stages[i]
			continue
		}

		outputs, err := s.dispatchStage(ctx, p.QueryID, stage, inputs)
		if err != nil {
			return nil, err
		}

		if i+1 < len(p.Stages) {
			inputs, err = route(outputs, stage.Partitioning, partitions)
			if err != nil {
				return nil, err
			}
		} else {
			inputs = outputs
		}
		upstream = &p.Stages[i]
	}

	return s.mergeFinal(upstream, inputs)
}

// dispatchStage despacha uma tarefa por partição, em paralelo, cada uma com
// retry limitado em workers diferentes. A chamada remota é o único ponto de
// suspensão de uma query.
func (s *Scheduler) dispatchStage(ctx context.Context, queryID string, stage plan.ExecutionStage, inputs []*columnar.Batch) ([]*columnar.Batch, error) {
	outputs := make([]*columnar.Batch, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range inputs {
		i := i
		g.Go(func() error {
			batch, err := s.dispatchPartition(gctx, queryID, stage, inputs[i], i)
			if err != nil {
				return err
			}
			outputs[i] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// dispatchPartition tenta o mesmo estágio em workers saudáveis distintos até
// o limite de retries; esgotado o limite, a falha nomeia o estágio e o
// último erro.
//
// Estágios de SCAN são a exceção: a partição lê os dados locais do worker
// dono, então o retry fica preso a ele. Re-tentar um SCAN em outro worker
// leria outra fatia dos dados e duplicaria linhas no resultado.
func (s *Scheduler) dispatchPartition(ctx context.Context, queryID string, stage plan.ExecutionStage, input *columnar.Batch, partition int) (*columnar.Batch, error) {
	var result *columnar.Batch
	var lastErr error
	attempt := 0

	pinned := stage.Kind == plan.StageScan
	var owner registry.WorkerInfo
	if pinned {
		healthy := s.registry.GetHealthyWorkers()
		if len(healthy) == 0 {
			return nil, ErrNoHealthyWorkers
		}
		owner = healthy[partition%len(healthy)]
	}

	backoff := retry.WithMaxRetries(StageRetryLimit, retry.NewConstant(retryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var worker registry.WorkerInfo
		if pinned {
			// O dono pode voltar dentro da janela de retry.
			if !s.registry.IsHealthy(owner.WorkerID) {
				lastErr = fmt.Errorf("worker %s da partição %d indisponível", owner.WorkerID, partition)
				return retry.RetryableError(lastErr)
			}
			worker = owner
		} else {
			healthy := s.registry.GetHealthyWorkers()
			if len(healthy) == 0 {
				lastErr = ErrNoHealthyWorkers
				return retry.RetryableError(ErrNoHealthyWorkers)
			}
			// Cada tentativa roda em um worker diferente.
			worker = healthy[(partition+attempt)%len(healthy)]
		}
		attempt++

		callCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
		defer cancel()

		resp, err := s.dispatcher.ExecuteStage(callCtx, worker, protocol.StageRequest{
			QueryID: queryID,
			StageID: stage.ID,
			Attempt: attempt,
			Stage:   stage,
			Input:   input,
		})
		if err != nil {
			qglog.Zero.Warn().
				Str("query", queryID).
				Int("stage", stage.ID).
				Str("worker", worker.WorkerID).
				Err(err).
				Msg("despacho de estágio falhou")
			lastErr = err
			return retry.RetryableError(err)
		}
		if resp.Error != "" {
			lastErr = errors.New(resp.Error)
			return retry.RetryableError(lastErr)
		}
		result = resp.Batch
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("estágio %d (%s) esgotou %d tentativas: %w", stage.ID, stage.Kind, StageRetryLimit+1, lastErr)
	}
	return result, nil
}

// batchToRows converte o batch final para o formato linha-a-linha da resposta.
func batchToRows(batch *columnar.Batch) ([]string, [][]interface{}) {
	if batch == nil {
		return nil, nil
	}
	var columns []string
	for _, col := range batch.Columns {
		columns = append(columns, col.Name)
	}
	rows := make([][]interface{}, 0, batch.RowCount)
	for row := 0; row < batch.RowCount; row++ {
		record := make([]interface{}, 0, len(batch.Columns))
		for _, col := range batch.Columns {
			value, err := col.Get(row)
			if err != nil || value.IsNull() {
				record = append(record, nil)
				continue
			}
			record = append(record, value.Data)
		}
		rows = append(rows, record)
	}
	return columns, rows
}
