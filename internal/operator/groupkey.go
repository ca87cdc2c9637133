package operator

import (
	"fmt"
	"strings"

	"github.com/Jonatan852/querygrid/pkg/columnar"
)

// GroupKey identifica um grupo de agregação: a tupla ordenada dos valores das
// colunas de GROUP BY. Igualdade e hash são estruturais — a codificação
// prefixa tipo e tamanho de cada elemento, então chaves distintas nunca
// colidem por ambiguidade de separador.
type GroupKey string

// MakeGroupKey codifica a tupla de valores preservando a ordem.
func MakeGroupKey(values []columnar.Value) GroupKey {
	if len(values) == 0 {
		return GroupKey("∅")
	}
	var sb strings.Builder
	for _, v := range values {
		if v.IsNull() {
			sb.WriteString("n:0:;")
			continue
		}
		repr := v.String()
		fmt.Fprintf(&sb, "%d:%d:%s;", v.Type, len(repr), repr)
	}
	return GroupKey(sb.String())
}
