package plan

import "fmt"

// StageKind identifica o operador executado por um estágio.
type StageKind string

const (
	StageScan      StageKind = "SCAN"
	StageFilter    StageKind = "FILTER"
	StageProject   StageKind = "PROJECT"
	StageAggregate StageKind = "AGGREGATE"
	StageShuffle   StageKind = "SHUFFLE"
)

// PartitionMode descreve como as linhas de saída de um estágio são
// distribuídas entre as partições do estágio seguinte.
type PartitionMode string

const (
	PartitionSingle    PartitionMode = "SINGLE"
	PartitionHash      PartitionMode = "HASH"
	PartitionBroadcast PartitionMode = "BROADCAST"
)

// Partitioning é a regra de particionamento de saída de um estágio.
// Columns só é usado no modo HASH.
type Partitioning struct {
	Mode    PartitionMode `json:"mode"`
	Columns []string      `json:"columns,omitempty"`
}

// CompareOp enumera as comparações numéricas suportadas pelo filtro.
type CompareOp string

const (
	OpEq  CompareOp = "="
	OpNeq CompareOp = "!="
	OpGt  CompareOp = ">"
	OpLt  CompareOp = "<"
	OpGte CompareOp = ">="
	OpLte CompareOp = "<="
)

// FilterSpec descreve um predicado de comparação numérica sobre uma coluna.
type FilterSpec struct {
	Column string    `json:"column"`
	Op     CompareOp `json:"op"`
	Value  float64   `json:"value"`
}

// AggregateFunc enumera as funções de agregação suportadas.
type AggregateFunc string

const (
	AggCount AggregateFunc = "COUNT"
	AggSum   AggregateFunc = "SUM"
	AggAvg   AggregateFunc = "AVG"
	AggMin   AggregateFunc = "MIN"
	AggMax   AggregateFunc = "MAX"
)

// AggregateSpec descreve cada medida calculada por um estágio AGGREGATE.
type AggregateSpec struct {
	Func   AggregateFunc `json:"func"`
	Column string        `json:"column"`
	Alias  string        `json:"alias,omitempty"`
}

// OutputName devolve o nome da coluna de saída da medida.
func (s AggregateSpec) OutputName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return fmt.Sprintf("%s(%s)", s.Func, s.Column)
}

// SortKey define cada coluna usada na ordenação final.
type SortKey struct {
	Column    string `json:"column"`
	Ascending bool   `json:"ascending"`
}

// ExecutionStage é um estágio do plano: um operador lógico aplicado a uma
// partição dos dados, com a regra de particionamento da sua saída.
type ExecutionStage struct {
	ID           int             `json:"id"`
	Kind         StageKind       `json:"kind"`
	Partitioning Partitioning    `json:"partitioning"`
	Upstream     int             `json:"upstream,omitempty"` // 0 = estágio inicial
	Table        string          `json:"table,omitempty"`
	Columns      []string        `json:"columns,omitempty"`
	Filter       *FilterSpec     `json:"filter,omitempty"`
	GroupBy      []string        `json:"groupBy,omitempty"`
	Aggregates   []AggregateSpec `json:"aggregates,omitempty"`
	SortKeys     []SortKey       `json:"sortKeys,omitempty"`
	Limit        *int64          `json:"limit,omitempty"`
}

// ExecutionPlan é a sequência ordenada de estágios de uma query.
// Criado uma única vez pelo planner e imutável a partir daí.
type ExecutionPlan struct {
	QueryID     string           `json:"queryId"`
	OriginalSQL string           `json:"originalSql"`
	Stages      []ExecutionStage `json:"stages"`
}

// Validate confere os invariantes estruturais do plano: ao menos um estágio,
// IDs estritamente crescentes e upstream válido em todo estágio não inicial.
func (p *ExecutionPlan) Validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("plano %s sem estágios", p.QueryID)
	}
	ids := map[int]bool{}
	last := 0
	for i, stage := range p.Stages {
		if stage.ID <= last {
			return fmt.Errorf("estágio %d fora de ordem (anterior %d)", stage.ID, last)
		}
		if i == 0 {
			if stage.Upstream != 0 {
				return fmt.Errorf("estágio inicial %d não pode ter upstream", stage.ID)
			}
		} else if !ids[stage.Upstream] {
			return fmt.Errorf("estágio %d referencia upstream inexistente %d", stage.ID, stage.Upstream)
		}
		ids[stage.ID] = true
		last = stage.ID
	}
	return nil
}

// Final devolve o último estágio do plano.
func (p *ExecutionPlan) Final() ExecutionStage {
	return p.Stages[len(p.Stages)-1]
}

// StageByID localiza um estágio pelo ID.
func (p *ExecutionPlan) StageByID(id int) (ExecutionStage, bool) {
	for _, stage := range p.Stages {
		if stage.ID == id {
			return stage, true
		}
	}
	return ExecutionStage{}, false
}
