package columnar

import (
	"fmt"
	"strconv"
)

// DataType representa os tipos de dados suportados no sistema colunar
type DataType int

const (
	TypeInt DataType = iota
	TypeString
	TypeFloat
	TypeBool
)

// String retorna a representação em string do tipo
func (dt DataType) String() string {
	switch dt {
	case TypeInt:
		return "INT"
	case TypeString:
		return "STRING"
	case TypeFloat:
		return "FLOAT"
	case TypeBool:
		return "BOOL"
	default:
		return "UNKNOWN"
	}
}

// ParseDataType converte o nome textual de um tipo para DataType.
func ParseDataType(name string) (DataType, error) {
	switch name {
	case "INT", "int":
		return TypeInt, nil
	case "STRING", "string":
		return TypeString, nil
	case "FLOAT", "float":
		return TypeFloat, nil
	case "BOOL", "bool":
		return TypeBool, nil
	default:
		return TypeInt, fmt.Errorf("tipo desconhecido: %q", name)
	}
}

// Value representa um valor genérico que pode ser de qualquer tipo suportado.
// NULL é representado de forma independente do armazenamento (Data == nil).
type Value struct {
	Type DataType    `json:"type"`
	Data interface{} `json:"data"`
}

// NewIntValue cria um novo valor inteiro
func NewIntValue(v int64) Value {
	return Value{Type: TypeInt, Data: v}
}

// NewStringValue cria um novo valor string
func NewStringValue(v string) Value {
	return Value{Type: TypeString, Data: v}
}

// NewFloatValue cria um novo valor float
func NewFloatValue(v float64) Value {
	return Value{Type: TypeFloat, Data: v}
}

// NewBoolValue cria um novo valor booleano
func NewBoolValue(v bool) Value {
	return Value{Type: TypeBool, Data: v}
}

// NewNullValue cria um valor NULL com o tipo declarado
func NewNullValue(dt DataType) Value {
	return Value{Type: dt, Data: nil}
}

// IsNull indica se o valor é NULL
func (v Value) IsNull() bool {
	return v.Data == nil
}

// AsInt retorna o valor como int64, ou erro se o tipo for incompatível
func (v Value) AsInt() (int64, error) {
	if v.Type != TypeInt || v.IsNull() {
		return 0, fmt.Errorf("value is not an int, got %s", v.Type)
	}
	return v.Data.(int64), nil
}

// AsString retorna o valor como string, ou erro se o tipo for incompatível
func (v Value) AsString() (string, error) {
	if v.Type != TypeString || v.IsNull() {
		return "", fmt.Errorf("value is not a string, got %s", v.Type)
	}
	return v.Data.(string), nil
}

// AsFloat retorna o valor como float64, ou erro se o tipo for incompatível
func (v Value) AsFloat() (float64, error) {
	if v.Type != TypeFloat || v.IsNull() {
		return 0, fmt.Errorf("value is not a float, got %s", v.Type)
	}
	return v.Data.(float64), nil
}

// AsBool retorna o valor como bool, ou erro se o tipo for incompatível
func (v Value) AsBool() (bool, error) {
	if v.Type != TypeBool || v.IsNull() {
		return false, fmt.Errorf("value is not a bool, got %s", v.Type)
	}
	return v.Data.(bool), nil
}

// Numeric tenta interpretar o valor como número de ponto flutuante.
// Strings são parseadas; NULL ou falha de parse resultam em ok=false.
func (v Value) Numeric() (float64, bool) {
	if v.IsNull() {
		return 0, false
	}
	switch v.Type {
	case TypeInt:
		return float64(v.Data.(int64)), true
	case TypeFloat:
		return v.Data.(float64), true
	case TypeString:
		f, err := strconv.ParseFloat(v.Data.(string), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// String retorna a representação em string do valor
func (v Value) String() string {
	if v.IsNull() {
		return "NULL"
	}
	return fmt.Sprintf("%v", v.Data)
}
