package command

import "fmt"

type Direction int

const (
	Input Direction = iota
	Output
	InputOutput
	ReturnValue
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	case InputOutput:
		return "input_output"
	case ReturnValue:
		return "return_value"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// IsOutput reports whether the server assigns a value to the parameter.
func (d Direction) IsOutput() bool {
	return d != Input
}

// IsInput reports whether the parameter value is sent to the server.
func (d Direction) IsInput() bool {
	return d == Input || d == InputOutput
}

// DbType tags a parameter value independently of any engine.
type DbType int

const (
	DbTypeUnknown DbType = iota
	DbTypeString
	DbTypeInt32
	DbTypeInt64
	DbTypeFloat64
	DbTypeDecimal
	DbTypeBool
	DbTypeDateTime
	DbTypeBinary
)

var dbTypeNames = map[DbType]string{
	DbTypeUnknown:  "unknown",
	DbTypeString:   "string",
	DbTypeInt32:    "int32",
	DbTypeInt64:    "int64",
	DbTypeFloat64:  "float64",
	DbTypeDecimal:  "decimal",
	DbTypeBool:     "bool",
	DbTypeDateTime: "datetime",
	DbTypeBinary:   "binary",
}

func (t DbType) String() string {
	if name, ok := dbTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("dbtype(%d)", int(t))
}

type Parameter struct {
	Name      string
	Type      DbType
	Direction Direction
	Size      int
	Value     any
	// Store receives the server assigned value of an output parameter after
	// the command completes.
	Store func(value any)
}
