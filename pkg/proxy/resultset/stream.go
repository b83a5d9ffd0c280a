package resultset

import (
	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/proxy/mapping"
)

// Stream is a lazy, single pass sequence of records mapped from a Reader. It
// owns the reader and closes it once exhausted. Iterating again after that
// yields nothing.
//
//	for s.Next() {
//		rec := s.Record()
//	}
//	err := s.Err()
type Stream[T any] struct {
	reader  *Reader
	mapper  *mapping.Mapper[T]
	binding *mapping.Binding[T]
	values  []any
	current T
	err     error
	done    bool
}

func NewStream[T any](reader *Reader, mapper *mapping.Mapper[T]) *Stream[T] {
	return &Stream[T]{reader: reader, mapper: mapper}
}

// Empty returns an exhausted stream.
func Empty[T any]() *Stream[T] {
	return &Stream[T]{done: true}
}

func (s *Stream[T]) Next() bool {
	if s.done {
		return false
	}
	if s.binding == nil {
		columns, err := s.reader.Columns()
		if err != nil {
			s.fail(err)
			return false
		}
		s.binding = s.mapper.Bind(columns)
		s.values = make([]any, s.binding.Width())
	}
	if !s.reader.Next() {
		s.done = true
		if err := s.reader.Close(); err != nil {
			s.err = err
		}
		return false
	}

	dest := make([]any, len(s.values))
	for i := range s.values {
		dest[i] = &s.values[i]
	}
	if err := s.reader.Scan(dest...); err != nil {
		s.fail(err)
		return false
	}
	rec, err := s.binding.Map(s.values)
	if err != nil {
		s.fail(err)
		return false
	}
	s.current = rec
	return true
}

func (s *Stream[T]) fail(err error) {
	s.done = true
	s.err = errors.Trace(err)
	s.reader.Close()
}

// Record is the record read by the last successful Next.
func (s *Stream[T]) Record() T {
	return s.current
}

func (s *Stream[T]) Err() error {
	return s.err
}

// Close stops the enumeration and releases the connection. It is idempotent.
func (s *Stream[T]) Close() error {
	s.done = true
	if s.reader == nil {
		return nil
	}
	return s.reader.Close()
}

// Collect drains the stream.
func (s *Stream[T]) Collect() ([]T, error) {
	var ret []T
	for s.Next() {
		ret = append(ret, s.Record())
	}
	if err := s.Err(); err != nil {
		return ret, err
	}
	return ret, s.Close()
}
