package planner

import (
	"fmt"

	"github.com/Jonatan852/querygrid/internal/parser"
	"github.com/Jonatan852/querygrid/pkg/plan"
)

// ErrEmptyQuery indica uma descrição de query ausente ou sem tabela.
var ErrEmptyQuery = fmt.Errorf("planner: query vazia")

// Planner transforma uma QueryDescription em um plano de estágios ordenado.
// Um estágio por operador lógico; IDs atribuídos em ordem de criação a
// partir de 1.
type Planner struct{}

func New() *Planner {
	return &Planner{}
}

// CreateExecutionPlan decompõe a forma da query (scan puro, scan+filtro,
// scan+group-by[+having], scan+order-by+limit) em estágios, propagando o
// particionamento de saída entre estágios consecutivos.
func (p *Planner) CreateExecutionPlan(queryID string, desc *parser.QueryDescription, originalSQL string) (*plan.ExecutionPlan, error) {
	if desc == nil || desc.Table == "" {
		return nil, ErrEmptyQuery
	}

	hasAggregation := len(desc.Aggregates) > 0 || len(desc.GroupBy) > 0
	var stages []plan.ExecutionStage
	nextID := 1
	appendStage := func(stage plan.ExecutionStage) {
		stage.ID = nextID
		if len(stages) > 0 {
			stage.Upstream = stages[len(stages)-1].ID
		}
		nextID++
		stages = append(stages, stage)
	}

	appendStage(plan.ExecutionStage{
		Kind:    plan.StageScan,
		Table:   desc.Table,
		Columns: scanColumns(desc, hasAggregation),
	})

	if desc.Filter != nil {
		filter := *desc.Filter
		appendStage(plan.ExecutionStage{Kind: plan.StageFilter, Filter: &filter})
	}

	if hasAggregation {
		appendStage(plan.ExecutionStage{
			Kind:       plan.StageAggregate,
			GroupBy:    desc.GroupBy,
			Aggregates: desc.Aggregates,
		})
	} else if len(desc.Columns) > 0 {
		appendStage(plan.ExecutionStage{Kind: plan.StageProject, Columns: desc.Columns})
	}

	if len(desc.OrderBy) > 0 || desc.Limit != nil || desc.Having != nil {
		var having *plan.FilterSpec
		if desc.Having != nil {
			h := *desc.Having
			having = &h
		}
		appendStage(plan.ExecutionStage{
			Kind:     plan.StageShuffle,
			SortKeys: desc.OrderBy,
			Limit:    desc.Limit,
			Filter:   having,
		})
	}

	threadPartitioning(stages, desc.GroupBy)

	result := &plan.ExecutionPlan{
		QueryID:     queryID,
		OriginalSQL: originalSQL,
		Stages:      stages,
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateSimpleExecutionPlan é o caminho de bypass para formas que o planner
// completo não classifica: um único estágio de scan da tabela extraída do SQL.
func (p *Planner) CreateSimpleExecutionPlan(queryID, sql string) (*plan.ExecutionPlan, error) {
	table := parser.TableFromSQL(sql)
	if table == "" {
		return nil, fmt.Errorf("%w: nenhuma tabela identificada em %q", ErrEmptyQuery, sql)
	}
	result := &plan.ExecutionPlan{
		QueryID:     queryID,
		OriginalSQL: sql,
		Stages: []plan.ExecutionStage{
			{
				ID:           1,
				Kind:         plan.StageScan,
				Table:        table,
				Partitioning: plan.Partitioning{Mode: plan.PartitionSingle},
			},
		},
	}
	return result, nil
}

// threadPartitioning define a saída de cada estágio: quem alimenta um
// AGGREGATE sai hash-particionado pelas colunas de GROUP BY, para que chaves
// idênticas caiam sempre na mesma partição; o restante preserva identidade
// de linha com partição única.
func threadPartitioning(stages []plan.ExecutionStage, groupBy []string) {
	for i := range stages {
		if i+1 < len(stages) && stages[i+1].Kind == plan.StageAggregate && len(groupBy) > 0 {
			stages[i].Partitioning = plan.Partitioning{Mode: plan.PartitionHash, Columns: groupBy}
			continue
		}
		stages[i].Partitioning = plan.Partitioning{Mode: plan.PartitionSingle}
	}
}

// scanColumns decide a poda de colunas do scan. Agregações puxam as colunas
// de grupo e as medidas; projeções puxam só o que será projetado.
func scanColumns(desc *parser.QueryDescription, hasAggregation bool) []string {
	if !hasAggregation {
		return desc.Columns
	}
	seen := map[string]bool{}
	var columns []string
	add := func(name string) {
		if name == "" || name == "*" || seen[name] {
			return
		}
		seen[name] = true
		columns = append(columns, name)
	}
	for _, name := range desc.GroupBy {
		add(name)
	}
	for _, spec := range desc.Aggregates {
		add(spec.Column)
	}
	if desc.Filter != nil {
		add(desc.Filter.Column)
	}
	return columns
}
