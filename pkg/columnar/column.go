package columnar

import "fmt"

// Column representa uma coluna de dados homogêneos.
// Armazena valores do mesmo tipo de forma contígua em memória; NULLs são
// rastreados em um bitmap separado do armazenamento dos valores.
type Column struct {
	Name string   `json:"name"`
	Type DataType `json:"type"`
	// Usamos diferentes slices para cada tipo para eficiência
	IntData    []int64   `json:"intData,omitempty"`
	StringData []string  `json:"stringData,omitempty"`
	FloatData  []float64 `json:"floatData,omitempty"`
	BoolData   []bool    `json:"boolData,omitempty"`
	// Bitmap de NULLs: Nulls[i] == true indica valor ausente na posição i
	Nulls []bool `json:"nulls,omitempty"`
}

// NewColumn cria uma nova coluna com o nome e tipo especificados
func NewColumn(name string, dataType DataType) *Column {
	return &Column{
		Name: name,
		Type: dataType,
	}
}

// Append adiciona um valor à coluna. Valores NULL ocupam uma posição no
// armazenamento com o zero do tipo e marcam o bitmap.
func (c *Column) Append(value Value) error {
	if value.Type != c.Type && !value.IsNull() {
		return fmt.Errorf("type mismatch: column is %s, got %s", c.Type, value.Type)
	}

	if value.IsNull() {
		value = zeroValue(c.Type)
		c.Nulls = appendNull(c.Nulls, c.Len(), true)
	} else if c.Nulls != nil {
		c.Nulls = append(c.Nulls, false)
	}

	switch c.Type {
	case TypeInt:
		c.IntData = append(c.IntData, value.Data.(int64))
	case TypeString:
		c.StringData = append(c.StringData, value.Data.(string))
	case TypeFloat:
		c.FloatData = append(c.FloatData, value.Data.(float64))
	case TypeBool:
		c.BoolData = append(c.BoolData, value.Data.(bool))
	default:
		return fmt.Errorf("unsupported type: %s", c.Type)
	}

	return nil
}

// Get retorna o valor na posição especificada
func (c *Column) Get(index int) (Value, error) {
	if index < 0 || index >= c.Len() {
		return Value{}, fmt.Errorf("index out of bounds: %d (len: %d)", index, c.Len())
	}
	if c.IsNull(index) {
		return NewNullValue(c.Type), nil
	}

	switch c.Type {
	case TypeInt:
		return NewIntValue(c.IntData[index]), nil
	case TypeString:
		return NewStringValue(c.StringData[index]), nil
	case TypeFloat:
		return NewFloatValue(c.FloatData[index]), nil
	case TypeBool:
		return NewBoolValue(c.BoolData[index]), nil
	default:
		return Value{}, fmt.Errorf("unsupported type: %s", c.Type)
	}
}

// IsNull indica se a posição contém NULL
func (c *Column) IsNull(index int) bool {
	return index >= 0 && index < len(c.Nulls) && c.Nulls[index]
}

// Len retorna o número de elementos na coluna
func (c *Column) Len() int {
	switch c.Type {
	case TypeInt:
		return len(c.IntData)
	case TypeString:
		return len(c.StringData)
	case TypeFloat:
		return len(c.FloatData)
	case TypeBool:
		return len(c.BoolData)
	default:
		return 0
	}
}

// Clone cria uma cópia da coluna
func (c *Column) Clone() *Column {
	newCol := &Column{
		Name: c.Name,
		Type: c.Type,
	}

	switch c.Type {
	case TypeInt:
		newCol.IntData = make([]int64, len(c.IntData))
		copy(newCol.IntData, c.IntData)
	case TypeString:
		newCol.StringData = make([]string, len(c.StringData))
		copy(newCol.StringData, c.StringData)
	case TypeFloat:
		newCol.FloatData = make([]float64, len(c.FloatData))
		copy(newCol.FloatData, c.FloatData)
	case TypeBool:
		newCol.BoolData = make([]bool, len(c.BoolData))
		copy(newCol.BoolData, c.BoolData)
	}
	if c.Nulls != nil {
		newCol.Nulls = make([]bool, len(c.Nulls))
		copy(newCol.Nulls, c.Nulls)
	}

	return newCol
}

// ApproxBytes estima o tamanho em memória dos dados da coluna
func (c *Column) ApproxBytes() int64 {
	var total int64
	switch c.Type {
	case TypeInt:
		total = int64(len(c.IntData)) * 8
	case TypeFloat:
		total = int64(len(c.FloatData)) * 8
	case TypeBool:
		total = int64(len(c.BoolData))
	case TypeString:
		for _, s := range c.StringData {
			total += int64(len(s))
		}
	}
	return total + int64(len(c.Nulls))
}

func zeroValue(dt DataType) Value {
	switch dt {
	case TypeInt:
		return NewIntValue(0)
	case TypeFloat:
		return NewFloatValue(0)
	case TypeBool:
		return NewBoolValue(false)
	default:
		return NewStringValue("")
	}
}

// appendNull estende o bitmap até a posição informada preenchendo com false.
func appendNull(nulls []bool, index int, value bool) []bool {
	for len(nulls) < index {
		nulls = append(nulls, false)
	}
	return append(nulls, value)
}
