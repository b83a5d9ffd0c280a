package errors

import (
	"reflect"
)

// Is reports whether any error in err's chain matches target. Unlike the standard
// library it follows Cause() as well as Unwrap(), so pingcap/errors wrappers are walked.
func Is(err, target error) bool {
	if target == nil {
		return err == target
	}

	isComparable := reflect.TypeOf(target).Comparable()
	for {
		if isComparable && err == target {
			return true
		}
		if x, ok := err.(interface{ Is(error) bool }); ok && x.Is(target) {
			return true
		}
		if err = next(err); err == nil {
			return false
		}
	}
}

// As finds the first error in err's chain of type E.
func As[E error](err error) (E, bool) {
	for err != nil {
		if e, ok := err.(E); ok {
			return e, true
		}
		err = next(err)
	}
	var zero E
	return zero, false
}

func Cause(err error) error {
	u, ok := err.(interface {
		Cause() error
	})
	if !ok {
		return nil
	}
	return u.Cause()
}

func next(err error) error {
	if u, ok := err.(interface{ Unwrap() error }); ok {
		if e := u.Unwrap(); e != nil {
			return e
		}
	}
	return Cause(err)
}
