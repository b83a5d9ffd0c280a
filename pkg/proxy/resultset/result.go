package resultset

import (
	"github.com/tidb-incubator/repogate/pkg/proxy/errcode"
)

// Result is either a live stream or the offline marker of a repository no
// cluster could serve. Both enumerate; only Ok yields records.
type Result[T any] struct {
	stream  *Stream[T]
	offline error
}

func Ok[T any](stream *Stream[T]) Result[T] {
	return Result[T]{stream: stream}
}

// Offline wraps cause as an ErrServerOffline error.
func Offline[T any](repository, command string, cause error) Result[T] {
	return Result[T]{offline: errcode.New(errcode.ErrServerOffline, repository, command, cause)}
}

func (r Result[T]) IsServerOffline() bool {
	return r.offline != nil
}

// OfflineCause is nil unless the result is offline.
func (r Result[T]) OfflineCause() error {
	return r.offline
}

// Records returns the stream, or an empty one when offline.
func (r Result[T]) Records() *Stream[T] {
	if r.stream == nil {
		return Empty[T]()
	}
	return r.stream
}

func (r Result[T]) Close() error {
	if r.stream == nil {
		return nil
	}
	return r.stream.Close()
}
