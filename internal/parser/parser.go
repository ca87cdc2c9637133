package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/Jonatan852/querygrid/pkg/plan"
)

// QueryDescription é a descrição tipada de uma query aceita pelo motor:
// scan de uma tabela com filtro, projeção, agregação por grupo, having,
// ordenação e limite opcionais.
type QueryDescription struct {
	Table      string
	Columns    []string // projeção; vazio significa todas as colunas
	Filter     *plan.FilterSpec
	GroupBy    []string
	Aggregates []plan.AggregateSpec
	Having     *plan.FilterSpec
	OrderBy    []plan.SortKey
	Limit      *int64
}

// Parse converts a SQL string into a QueryDescription using sqlparser.
func Parse(sql string) (*QueryDescription, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	selectStmt, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, fmt.Errorf("%w: apenas SELECT é aceito", ErrUnsupported)
	}

	return convertSelect(selectStmt)
}

func convertSelect(stmt *sqlparser.Select) (*QueryDescription, error) {
	result := &QueryDescription{}

	table, err := convertFrom(stmt.From)
	if err != nil {
		return nil, err
	}
	result.Table = table

	if err := convertSelectExprs(stmt.SelectExprs, result); err != nil {
		return nil, err
	}

	if stmt.Where != nil {
		filter, err := convertComparison(stmt.Where.Expr)
		if err != nil {
			return nil, err
		}
		result.Filter = filter
	}

	for _, expr := range stmt.GroupBy {
		col, ok := expr.(*sqlparser.ColName)
		if !ok {
			return nil, fmt.Errorf("%w: GROUP BY aceita apenas colunas", ErrUnsupported)
		}
		result.GroupBy = append(result.GroupBy, col.Name.String())
	}

	if stmt.Having != nil {
		having, err := convertComparison(stmt.Having.Expr)
		if err != nil {
			return nil, err
		}
		result.Having = having
	}

	for _, order := range stmt.OrderBy {
		col, ok := order.Expr.(*sqlparser.ColName)
		if !ok {
			return nil, fmt.Errorf("%w: ORDER BY aceita apenas colunas", ErrUnsupported)
		}
		result.OrderBy = append(result.OrderBy, plan.SortKey{
			Column:    col.Name.String(),
			Ascending: order.Direction != sqlparser.DescScr,
		})
	}

	if stmt.Limit != nil && stmt.Limit.Rowcount != nil {
		limit, err := convertIntLiteral(stmt.Limit.Rowcount)
		if err != nil {
			return nil, err
		}
		result.Limit = &limit
	}

	if len(result.GroupBy) == 0 && len(result.Aggregates) > 0 && len(result.Columns) > 0 {
		return nil, fmt.Errorf("%w: mistura de colunas e agregados exige GROUP BY", ErrUnsupported)
	}

	return result, nil
}

func convertFrom(exprs sqlparser.TableExprs) (string, error) {
	if len(exprs) != 1 {
		return "", fmt.Errorf("%w: apenas uma tabela no FROM", ErrUnsupported)
	}
	aliased, ok := exprs[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return "", fmt.Errorf("%w: joins não são aceitos", ErrUnsupported)
	}
	tableName, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return "", fmt.Errorf("%w: subqueries no FROM não são aceitas", ErrUnsupported)
	}
	name := tableName.Name.String()
	if name == "" {
		return "", fmt.Errorf("%w: FROM sem tabela", ErrUnknownTable)
	}
	return name, nil
}

func convertSelectExprs(exprs sqlparser.SelectExprs, result *QueryDescription) error {
	for _, expr := range exprs {
		switch e := expr.(type) {
		case *sqlparser.StarExpr:
			// SELECT * projeta todas as colunas da tabela.
		case *sqlparser.AliasedExpr:
			switch inner := e.Expr.(type) {
			case *sqlparser.ColName:
				result.Columns = append(result.Columns, inner.Name.String())
			case *sqlparser.FuncExpr:
				spec, err := convertAggregate(inner, e.As.String())
				if err != nil {
					return err
				}
				result.Aggregates = append(result.Aggregates, spec)
			default:
				return fmt.Errorf("%w: expressão de projeção não aceita: %v", ErrUnsupported, sqlparser.String(e.Expr))
			}
		default:
			return fmt.Errorf("%w: item de SELECT não aceito", ErrUnsupported)
		}
	}
	return nil
}

func convertAggregate(fn *sqlparser.FuncExpr, alias string) (plan.AggregateSpec, error) {
	name := strings.ToUpper(fn.Name.String())
	var aggFunc plan.AggregateFunc
	switch name {
	case "COUNT":
		aggFunc = plan.AggCount
	case "SUM":
		aggFunc = plan.AggSum
	case "AVG":
		aggFunc = plan.AggAvg
	case "MIN":
		aggFunc = plan.AggMin
	case "MAX":
		aggFunc = plan.AggMax
	default:
		return plan.AggregateSpec{}, fmt.Errorf("%w: função %s", ErrUnsupported, name)
	}
	if fn.Distinct {
		return plan.AggregateSpec{}, fmt.Errorf("%w: DISTINCT em agregados", ErrUnsupported)
	}
	if len(fn.Exprs) != 1 {
		return plan.AggregateSpec{}, fmt.Errorf("%w: agregado com %d argumentos", ErrUnsupported, len(fn.Exprs))
	}

	var column string
	switch arg := fn.Exprs[0].(type) {
	case *sqlparser.StarExpr:
		column = "*"
	case *sqlparser.AliasedExpr:
		col, ok := arg.Expr.(*sqlparser.ColName)
		if !ok {
			return plan.AggregateSpec{}, fmt.Errorf("%w: agregado sobre expressão composta", ErrUnsupported)
		}
		column = col.Name.String()
	default:
		return plan.AggregateSpec{}, fmt.Errorf("%w: argumento de agregado não aceito", ErrUnsupported)
	}

	return plan.AggregateSpec{Func: aggFunc, Column: column, Alias: alias}, nil
}

// convertComparison aceita apenas "coluna OP literal numérico".
func convertComparison(expr sqlparser.Expr) (*plan.FilterSpec, error) {
	cmp, ok := expr.(*sqlparser.ComparisonExpr)
	if !ok {
		return nil, fmt.Errorf("%w: predicado aceita apenas comparação simples", ErrUnsupported)
	}
	col, ok := cmp.Left.(*sqlparser.ColName)
	if !ok {
		return nil, fmt.Errorf("%w: lado esquerdo do predicado precisa ser coluna", ErrUnsupported)
	}
	value, err := convertFloatLiteral(cmp.Right)
	if err != nil {
		return nil, err
	}

	var op plan.CompareOp
	switch cmp.Operator {
	case sqlparser.EqualStr:
		op = plan.OpEq
	case sqlparser.NotEqualStr:
		op = plan.OpNeq
	case sqlparser.GreaterThanStr:
		op = plan.OpGt
	case sqlparser.LessThanStr:
		op = plan.OpLt
	case sqlparser.GreaterEqualStr:
		op = plan.OpGte
	case sqlparser.LessEqualStr:
		op = plan.OpLte
	default:
		return nil, fmt.Errorf("%w: operador %s", ErrUnsupported, cmp.Operator)
	}

	return &plan.FilterSpec{Column: col.Name.String(), Op: op, Value: value}, nil
}

func convertFloatLiteral(expr sqlparser.Expr) (float64, error) {
	val, ok := expr.(*sqlparser.SQLVal)
	if !ok || (val.Type != sqlparser.IntVal && val.Type != sqlparser.FloatVal) {
		return 0, fmt.Errorf("%w: predicado exige literal numérico", ErrUnsupported)
	}
	f, err := strconv.ParseFloat(string(val.Val), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: literal numérico inválido: %v", ErrSyntax, err)
	}
	return f, nil
}

func convertIntLiteral(expr sqlparser.Expr) (int64, error) {
	val, ok := expr.(*sqlparser.SQLVal)
	if !ok || val.Type != sqlparser.IntVal {
		return 0, fmt.Errorf("%w: LIMIT exige literal inteiro", ErrUnsupported)
	}
	i, err := strconv.ParseInt(string(val.Val), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: LIMIT inválido: %v", ErrSyntax, err)
	}
	return i, nil
}

// TableFromSQL extrai o nome da tabela por varredura léxica simples.
// Usado pelo caminho de bypass quando o parser rejeita a forma da query.
func TableFromSQL(sql string) string {
	fields := strings.Fields(sql)
	for i, field := range fields {
		if strings.EqualFold(field, "FROM") && i+1 < len(fields) {
			table := strings.Trim(fields[i+1], ";,")
			return table
		}
	}
	return ""
}
