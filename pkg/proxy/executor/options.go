package executor

import (
	"time"

	"github.com/tidb-incubator/repogate/pkg/proxy/trace"
)

type options struct {
	transaction bool
	timeout     time.Duration
	trace       trace.Writer
}

type Option func(*options)

// WithTransaction runs the command in its own transaction, committed when
// the command completes.
func WithTransaction() Option {
	return func(o *options) {
		o.transaction = true
	}
}

// WithTimeout overrides the command and executor timeouts. The timeout covers
// routing as well as execution.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithTraceWriter replaces the executor's configured trace output for one command.
func WithTraceWriter(w trace.Writer) Option {
	return func(o *options) {
		o.trace = w
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
