package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jonatan852/querygrid/internal/history"
	"github.com/Jonatan852/querygrid/internal/parser"
	"github.com/Jonatan852/querygrid/internal/planner"
	"github.com/Jonatan852/querygrid/internal/registry"
	"github.com/Jonatan852/querygrid/internal/scheduler"
	"github.com/Jonatan852/querygrid/pkg/plan"
	"github.com/Jonatan852/querygrid/pkg/qglog"
)

// QueryResponse é a forma voltada ao chamador: o resultado traduzido ou o
// erro por extenso, nunca uma exceção.
type QueryResponse struct {
	QueryID         string          `json:"queryId"`
	Status          string          `json:"status"`
	Columns         []string        `json:"columns,omitempty"`
	Rows            [][]interface{} `json:"rows,omitempty"`
	RowsReturned    int             `json:"rowsReturned"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	ExecutionTimeMs int64           `json:"executionTimeMs"`
}

// Query é o futuro devolvido por Submit.
type Query struct {
	QueryID string

	once     sync.Once
	done     chan struct{}
	response QueryResponse
}

func newQuery(id string) *Query {
	return &Query{QueryID: id, done: make(chan struct{})}
}

func (q *Query) resolve(resp QueryResponse) {
	q.once.Do(func() {
		q.response = resp
		close(q.done)
	})
}

// Done fecha quando a resposta está disponível.
func (q *Query) Done() <-chan struct{} { return q.done }

// Wait bloqueia até a resposta ou o contexto expirar.
func (q *Query) Wait(ctx context.Context) (QueryResponse, error) {
	select {
	case <-q.done:
		return q.response, nil
	case <-ctx.Done():
		return QueryResponse{}, ctx.Err()
	}
}

// Service é a fachada do plano de controle: parse, planejamento,
// agendamento e histórico por trás de um único Submit.
type Service struct {
	registry  *registry.Registry
	planner   *planner.Planner
	scheduler *scheduler.Scheduler
	history   history.Store

	mu      sync.Mutex
	running map[string]*scheduler.Execution
}

func New(reg *registry.Registry, dispatcher scheduler.Dispatcher, hist history.Store, opts ...scheduler.Option) *Service {
	s := &Service{
		registry: reg,
		planner:  planner.New(),
		history:  hist,
		running:  map[string]*scheduler.Execution{},
	}
	opts = append(opts, scheduler.WithTransitionFunc(s.recordTransition))
	s.scheduler = scheduler.New(reg, dispatcher, opts...)
	return s
}

func (s *Service) recordTransition(queryID string, state scheduler.QueryState) {
	if err := s.history.RecordTransition(context.Background(), queryID, string(state), time.Now()); err != nil {
		qglog.Zero.Warn().Str("query", queryID).Err(err).Msg("falha ao registrar transição no histórico")
	}
}

// Submit aceita o SQL e devolve o futuro da resposta. Erros de parse ou de
// planejamento viram respostas FAILED; nada é propagado ao chamador.
func (s *Service) Submit(ctx context.Context, sql string) *Query {
	queryID := uuid.NewString()
	query := newQuery(queryID)
	start := time.Now()

	if err := s.history.RecordSubmission(ctx, queryID, sql, start); err != nil {
		qglog.Zero.Warn().Str("query", queryID).Err(err).Msg("falha ao registrar submissão")
	}

	failNow := func(msg string) {
		s.recordTransition(queryID, scheduler.StateFailed)
		if err := s.history.RecordOutcome(context.Background(), queryID, 0, msg); err != nil {
			qglog.Zero.Warn().Str("query", queryID).Err(err).Msg("falha ao registrar desfecho")
		}
		query.resolve(QueryResponse{
			QueryID:         queryID,
			Status:          string(scheduler.StateFailed),
			ErrorMessage:    msg,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		})
	}

	// Sem workers saudáveis a query falha antes de qualquer parse ou
	// planejamento; executar localmente é decisão do chamador.
	if len(s.registry.GetHealthyWorkers()) == 0 {
		failNow(scheduler.ErrNoHealthyWorkers.Error())
		return query
	}

	executionPlan, err := s.buildPlan(queryID, sql)
	if err != nil {
		failNow(err.Error())
		return query
	}

	// A execução não herda o contexto do chamador: a query continua mesmo
	// que quem submeteu desapareça; cancelar é operação explícita.
	exec := s.scheduler.ExecuteQuery(context.Background(), executionPlan)
	s.mu.Lock()
	s.running[queryID] = exec
	s.mu.Unlock()

	go func() {
		<-exec.Done()
		result := exec.Result()

		s.mu.Lock()
		delete(s.running, queryID)
		s.mu.Unlock()

		if err := s.history.RecordOutcome(context.Background(), queryID, result.RowCount, result.Error); err != nil {
			qglog.Zero.Warn().Str("query", queryID).Err(err).Msg("falha ao registrar desfecho")
		}
		query.resolve(QueryResponse{
			QueryID:         queryID,
			Status:          string(exec.State()),
			Columns:         result.Columns,
			Rows:            result.Rows,
			RowsReturned:    result.RowCount,
			ErrorMessage:    result.Error,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		})
	}()
	return query
}

// buildPlan converte o SQL em plano. Formas que o parser não converte caem
// no plano simples de scan único, classificadas por tipo de erro e nunca
// por inspeção da mensagem.
func (s *Service) buildPlan(queryID, sql string) (*plan.ExecutionPlan, error) {
	desc, err := parser.Parse(sql)
	switch {
	case err == nil:
		return s.planner.CreateExecutionPlan(queryID, desc, sql)
	case errors.Is(err, parser.ErrUnsupported) || errors.Is(err, parser.ErrUnknownTable):
		qglog.Zero.Debug().Str("query", queryID).Err(err).Msg("caindo para o plano simples")
		simple, simpleErr := s.planner.CreateSimpleExecutionPlan(queryID, sql)
		if simpleErr != nil {
			return nil, fmt.Errorf("%w (plano simples também falhou: %v)", err, simpleErr)
		}
		return simple, nil
	default:
		return nil, err
	}
}

// GetStatus devolve o registro corrente da query no histórico.
func (s *Service) GetStatus(ctx context.Context, queryID string) (history.Record, error) {
	return s.history.Get(ctx, queryID)
}

// Cancel cancela uma query ainda em execução. Devolve false para queries
// desconhecidas ou já terminadas.
func (s *Service) Cancel(queryID string) bool {
	s.mu.Lock()
	exec, ok := s.running[queryID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	exec.Cancel()
	return true
}

// ListRecent lista as queries mais recentes do histórico.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]history.Record, error) {
	return s.history.ListRecent(ctx, limit)
}

// ListRunning lista os IDs das queries não terminadas, em ordem estável.
func (s *Service) ListRunning() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExplainPlan monta o plano da query sem executá-la, para visualização.
func (s *Service) ExplainPlan(sql string) (*plan.ExecutionPlan, error) {
	return s.buildPlan("explain-"+uuid.NewString(), sql)
}
