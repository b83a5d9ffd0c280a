package errcode

import (
	"fmt"
	"strings"

	"github.com/pingcap/errors"
	uerrors "github.com/tidb-incubator/repogate/pkg/util/errors"
	"go.uber.org/zap"
)

var (
	ErrUnknownRepository       = errors.New("unknown repository")
	ErrAllClustersUnavailable  = errors.New("all clusters unavailable")
	ErrConnectionUnavailable   = errors.New("connection unavailable")
	ErrCommandTimeout          = errors.New("command timeout")
	ErrCommandExecutionFailure = errors.New("command execution failure")
	ErrServerOffline           = errors.New("server offline")
	ErrRateLimited             = errors.New("rate limited")
)

// Error attaches routing context to one of the kinds above.
type Error struct {
	Kind       error
	Repository string
	Cluster    int
	Database   string
	Command    string
	Err        error
}

func New(kind error, repository, command string, err error) *Error {
	return &Error{
		Kind:       kind,
		Repository: repository,
		Command:    command,
		Err:        err,
	}
}

// At records the cluster and database the error was observed on.
func (e *Error) At(cluster int, database string) *Error {
	e.Cluster = cluster
	e.Database = database
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	var ctx []string
	if e.Repository != "" {
		ctx = append(ctx, "repository "+e.Repository)
	}
	if e.Cluster != 0 {
		ctx = append(ctx, fmt.Sprintf("cluster %d", e.Cluster))
	}
	if e.Database != "" {
		ctx = append(ctx, "database "+e.Database)
	}
	if e.Command != "" {
		ctx = append(ctx, "command "+e.Command)
	}
	if len(ctx) != 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(ctx, ", "))
		sb.WriteString(")")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Cause() error {
	return e.Err
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("kind", e.Kind.Error()),
		zap.String("repository", e.Repository),
	}
	if e.Cluster != 0 {
		fields = append(fields, zap.Int("cluster", e.Cluster))
	}
	if e.Database != "" {
		fields = append(fields, zap.String("database", e.Database))
	}
	if e.Command != "" {
		fields = append(fields, zap.String("command", e.Command))
	}
	if e.Err != nil {
		fields = append(fields, zap.NamedError("cause", e.Err))
	}
	return fields
}

// KindOf returns the kind of the first *Error in err's chain, or nil.
func KindOf(err error) error {
	if e, ok := uerrors.As[*Error](err); ok {
		return e.Kind
	}
	return nil
}

// Is is errors.Is that also follows pingcap/errors causes.
func Is(err, kind error) bool {
	return uerrors.Is(err, kind)
}
