package mapping

import (
	"strings"
	"time"

	"github.com/pingcap/errors"
	"github.com/spf13/cast"
)

var (
	ErrDuplicatedColumn = errors.New("duplicated column")
	ErrEmptyColumn      = errors.New("empty column name")
)

// Field maps one result column onto a record of type T. A NULL or missing
// column assigns Default.
type Field[T any] struct {
	Column  string
	Default any
	set     func(rec *T, value any) error
}

// Column declares a field whose value is converted to V before set is called.
func Column[T any, V any](column string, set func(rec *T, value V), def V) Field[T] {
	return Field[T]{
		Column:  column,
		Default: def,
		set: func(rec *T, value any) error {
			v, err := Convert[V](value)
			if err != nil {
				return errors.WithMessage(err, "column "+column)
			}
			set(rec, v)
			return nil
		},
	}
}

// Mapper is the static field list of one record type. Build it once and share
// it; it is read only after NewMapper.
type Mapper[T any] struct {
	fields []Field[T]
}

func NewMapper[T any](fields ...Field[T]) (*Mapper[T], error) {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Column == "" {
			return nil, ErrEmptyColumn
		}
		name := strings.ToLower(f.Column)
		if _, ok := seen[name]; ok {
			return nil, errors.WithMessage(ErrDuplicatedColumn, f.Column)
		}
		seen[name] = struct{}{}
	}
	return &Mapper[T]{fields: fields}, nil
}

// MustNewMapper is NewMapper for package level declarations.
func MustNewMapper[T any](fields ...Field[T]) *Mapper[T] {
	m, err := NewMapper(fields...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Mapper[T]) Fields() []Field[T] {
	return m.fields
}

// Bind resolves the fields against the columns of a result set. Columns match
// case-insensitively; result columns without a field are skipped.
func (m *Mapper[T]) Bind(columns []string) *Binding[T] {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		name := strings.ToLower(c)
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}
	b := &Binding[T]{mapper: m, width: len(columns), positions: make([]int, len(m.fields))}
	for i, f := range m.fields {
		pos, ok := index[strings.ToLower(f.Column)]
		if !ok {
			pos = -1
		}
		b.positions[i] = pos
	}
	return b
}

// Binding maps rows of one result set.
type Binding[T any] struct {
	mapper    *Mapper[T]
	width     int
	positions []int
}

// Width is the number of values a row carries.
func (b *Binding[T]) Width() int {
	return b.width
}

func (b *Binding[T]) Map(values []any) (T, error) {
	var rec T
	if len(values) != b.width {
		return rec, errors.Errorf("row has %d values, want %d", len(values), b.width)
	}
	for i, f := range b.mapper.fields {
		var v any
		if pos := b.positions[i]; pos >= 0 {
			v = values[pos]
		}
		if v == nil {
			v = f.Default
		}
		if err := f.set(&rec, v); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// Convert converts a driver value to V. nil converts to the zero value.
func Convert[V any](value any) (V, error) {
	var zero V
	if value == nil {
		return zero, nil
	}
	if v, ok := value.(V); ok {
		return v, nil
	}

	var (
		ret any
		err error
	)
	switch any(zero).(type) {
	case string:
		if b, ok := value.([]byte); ok {
			ret = string(b)
		} else {
			ret, err = cast.ToStringE(value)
		}
	case int:
		ret, err = cast.ToIntE(normalize(value))
	case int32:
		ret, err = cast.ToInt32E(normalize(value))
	case int64:
		ret, err = cast.ToInt64E(normalize(value))
	case uint64:
		ret, err = cast.ToUint64E(normalize(value))
	case float64:
		ret, err = cast.ToFloat64E(normalize(value))
	case bool:
		ret, err = cast.ToBoolE(normalize(value))
	case time.Time:
		ret, err = cast.ToTimeE(normalize(value))
	case []byte:
		s, e := cast.ToStringE(value)
		ret, err = []byte(s), e
	default:
		return zero, errors.Errorf("cannot convert %T to %T", value, zero)
	}
	if err != nil {
		return zero, errors.Trace(err)
	}
	v, ok := ret.(V)
	if !ok {
		return zero, errors.Errorf("cannot convert %T to %T", value, zero)
	}
	return v, nil
}

// drivers hand out numbers and timestamps as []byte
func normalize(value any) any {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}
