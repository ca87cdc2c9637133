package planner

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Jonatan852/querygrid/pkg/plan"
)

// PlanToJSON devolve o plano de estágios em formato JSON legível.
func PlanToJSON(p *plan.ExecutionPlan) ([]byte, error) {
	if p == nil || len(p.Stages) == 0 {
		return nil, fmt.Errorf("plano vazio")
	}
	return json.MarshalIndent(p, "", "  ")
}

// PlanToDOT gera um grafo DOT simples para usar com Graphviz.
func PlanToDOT(p *plan.ExecutionPlan) (string, error) {
	if p == nil || len(p.Stages) == 0 {
		return "", fmt.Errorf("plano vazio")
	}
	var buf bytes.Buffer
	buf.WriteString("digraph Plan {\n")
	buf.WriteString("  rankdir=TB;\n")
	for _, stage := range p.Stages {
		label := fmt.Sprintf("stage-%d\\n%s\\n%s", stage.ID, stage.Kind, stage.Partitioning.Mode)
		if stage.Table != "" {
			label = fmt.Sprintf("%s\\ntable=%s", label, stage.Table)
		}
		buf.WriteString(fmt.Sprintf("  \"stage-%d\" [label=\"%s\", shape=box];\n", stage.ID, label))
		if stage.Upstream != 0 {
			buf.WriteString(fmt.Sprintf("  \"stage-%d\" -> \"stage-%d\";\n", stage.Upstream, stage.ID))
		}
	}
	buf.WriteString("}\n")
	return buf.String(), nil
}
