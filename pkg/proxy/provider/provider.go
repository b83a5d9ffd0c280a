package provider

import (
	"context"
	"strings"

	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/proxy/command"
)

type ServerType string

const (
	SQLServer  ServerType = "sqlserver"
	MySQL      ServerType = "mysql"
	PostgreSQL ServerType = "postgresql"
	SQLite     ServerType = "sqlite"
)

var (
	ErrUnknownServerType       = errors.New("unknown server type")
	ErrNoProvider              = errors.New("no provider registered for server type")
	ErrProcedureNotSupported   = errors.New("stored procedures are not supported by this engine")
	ErrTransactionInProgress   = errors.New("transaction already in progress")
	ErrNoTransactionInProgress = errors.New("no transaction in progress")
)

var serverTypeAliases = map[string]ServerType{
	"sqlserver":  SQLServer,
	"mssql":      SQLServer,
	"mysql":      MySQL,
	"postgresql": PostgreSQL,
	"postgres":   PostgreSQL,
	"pgsql":      PostgreSQL,
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
}

func ParseServerType(s string) (ServerType, error) {
	t, ok := serverTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", errors.WithMessage(ErrUnknownServerType, s)
	}
	return t, nil
}

// Result is the outcome of a non query or scalar execution. Outputs holds the
// server assigned values of output parameters, keyed by parameter name.
type Result struct {
	RowsAffected int64
	Value        any
	Outputs      map[string]any
}

// Rows is a forward only cursor. *sql.Rows satisfies everything but Outputs.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
	Err() error
	Close() error
	// Outputs is valid once Close returned.
	Outputs() map[string]any
}

// PhysicalConn is one live session with an engine. It is not safe for
// concurrent use.
type PhysicalConn interface {
	ServerType() ServerType
	Ping(ctx context.Context) error
	BeginTx(ctx context.Context) error
	Commit() error
	Rollback() error
	InTransaction() bool
	Query(ctx context.Context, cmd *command.Command) (Rows, error)
	Exec(ctx context.Context, cmd *command.Command) (Result, error)
	QueryScalar(ctx context.Context, cmd *command.Command) (Result, error)
	Close() error
}

// Provider opens physical connections for one server type.
type Provider interface {
	Type() ServerType
	Open(ctx context.Context, connString string) (PhysicalConn, error)
}
