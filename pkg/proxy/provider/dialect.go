package provider

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/pingcap/errors"
	"github.com/spf13/cast"
	"github.com/tidb-incubator/repogate/pkg/proxy/command"
)

// dialect renders a command for one engine. forQuery is set when the caller
// reads a result set rather than a row count.
type dialect interface {
	render(cmd *command.Command, forQuery bool) (*statement, error)
}

func dialectFor(t ServerType) dialect {
	switch t {
	case SQLServer:
		return sqlserverDialect{}
	case MySQL:
		return mysqlDialect{}
	case PostgreSQL:
		return postgresDialect{}
	default:
		return sqliteDialect{}
	}
}

type setupStmt struct {
	query string
	args  []any
}

type boundOutput struct {
	param *command.Parameter
	get   func() any
}

type statement struct {
	query string
	args  []any

	// executed in order before query
	setup []setupStmt
	// exec only: outputs read from the single row returned by query
	rowOutputs []*command.Parameter
	// exec only: receives LastInsertId
	lastInsertID *command.Parameter
	// outputs bound as driver arguments, readable after completion
	bound []boundOutput
	// outputs fetched by a follow up query on the same session
	selectOutputs       string
	selectOutputsParams []*command.Parameter
}

func (st *statement) runSetup(ctx context.Context, q querier) error {
	for _, s := range st.setup {
		if _, err := q.ExecContext(ctx, s.query, s.args...); err != nil {
			return err
		}
	}
	return nil
}

func (st *statement) collectOutputs(ctx context.Context, q querier, outputs map[string]any) error {
	for _, b := range st.bound {
		outputs[b.param.Name] = b.get()
	}
	if st.selectOutputs == "" {
		return nil
	}
	return scanRowOutputs(q.QueryRowContext(ctx, st.selectOutputs), st.selectOutputsParams, outputs)
}

func inputValues(params []*command.Parameter) []any {
	var args []any
	for _, p := range params {
		if p.Direction.IsInput() {
			args = append(args, p.Value)
		}
	}
	return args
}

func returnParam(params []*command.Parameter) *command.Parameter {
	for _, p := range params {
		if p.Direction == command.ReturnValue {
			return p
		}
	}
	return nil
}

// textStatement binds input parameters positionally. A ReturnValue parameter
// receives the last inserted id.
func textStatement(cmd *command.Command, forQuery bool) *statement {
	params := cmd.Parameters()
	st := &statement{query: cmd.Text(), args: inputValues(params)}
	if !forQuery {
		st.lastInsertID = returnParam(params)
	}
	return st
}

func sessionVarName(name string) string {
	var sb strings.Builder
	sb.WriteString("@repogate_")
	for _, r := range strings.TrimLeft(name, "@") {
		if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

type sqliteDialect struct{}

func (sqliteDialect) render(cmd *command.Command, forQuery bool) (*statement, error) {
	if cmd.Type() == command.StoredProcedure {
		return nil, errors.WithMessage(ErrProcedureNotSupported, string(SQLite))
	}
	return textStatement(cmd, forQuery), nil
}

// mysqlDialect passes output parameters through session variables and reads
// them back on the same session once the call completes.
type mysqlDialect struct{}

func (mysqlDialect) render(cmd *command.Command, forQuery bool) (*statement, error) {
	if cmd.Type() == command.Text {
		return textStatement(cmd, forQuery), nil
	}

	st := &statement{}
	var placeholders, selects []string
	for _, p := range cmd.Parameters() {
		switch p.Direction {
		case command.Input:
			placeholders = append(placeholders, "?")
			st.args = append(st.args, p.Value)
		case command.Output, command.InputOutput:
			v := sessionVarName(p.Name)
			if p.Direction == command.InputOutput {
				st.setup = append(st.setup, setupStmt{query: "SET " + v + " = ?", args: []any{p.Value}})
			} else {
				st.setup = append(st.setup, setupStmt{query: "SET " + v + " = NULL"})
			}
			placeholders = append(placeholders, v)
			selects = append(selects, v)
			st.selectOutputsParams = append(st.selectOutputsParams, p)
		case command.ReturnValue:
			if !forQuery {
				st.lastInsertID = p
			}
		}
	}
	st.query = fmt.Sprintf("CALL %s(%s)", cmd.Text(), strings.Join(placeholders, ", "))
	if len(selects) != 0 {
		st.selectOutputs = "SELECT " + strings.Join(selects, ", ")
	}
	return st, nil
}

// postgresDialect calls procedures with CALL, whose OUT arguments are passed as
// NULL and come back as a row. A ReturnValue parameter turns the call into a
// function invocation.
type postgresDialect struct{}

func (postgresDialect) render(cmd *command.Command, forQuery bool) (*statement, error) {
	params := cmd.Parameters()
	if cmd.Type() == command.Text {
		st := &statement{query: cmd.Text(), args: inputValues(params)}
		if p := returnParam(params); p != nil && !forQuery {
			// e.g. INSERT ... RETURNING id
			st.rowOutputs = []*command.Parameter{p}
		}
		return st, nil
	}

	st := &statement{}
	var callArgs, funcArgs []string
	var outputs []*command.Parameter
	var ret *command.Parameter
	for _, p := range params {
		switch p.Direction {
		case command.Input, command.InputOutput:
			st.args = append(st.args, p.Value)
			ph := fmt.Sprintf("$%d", len(st.args))
			callArgs = append(callArgs, ph)
			funcArgs = append(funcArgs, ph)
			if p.Direction == command.InputOutput {
				outputs = append(outputs, p)
			}
		case command.Output:
			callArgs = append(callArgs, "NULL")
			outputs = append(outputs, p)
		case command.ReturnValue:
			ret = p
		}
	}

	switch {
	case forQuery:
		st.query = fmt.Sprintf("SELECT * FROM %s(%s)", cmd.Text(), strings.Join(funcArgs, ", "))
	case ret != nil:
		st.query = fmt.Sprintf("SELECT %s(%s)", cmd.Text(), strings.Join(funcArgs, ", "))
		st.rowOutputs = []*command.Parameter{ret}
	default:
		st.query = fmt.Sprintf("CALL %s(%s)", cmd.Text(), strings.Join(callArgs, ", "))
		st.rowOutputs = outputs
	}
	return st, nil
}

// sqlserverDialect binds parameters by name. go-mssqldb runs a query without
// whitespace as an RPC call, so procedures are sent by name alone.
type sqlserverDialect struct{}

func (sqlserverDialect) render(cmd *command.Command, forQuery bool) (*statement, error) {
	st := &statement{query: cmd.Text()}
	for _, p := range cmd.Parameters() {
		name := strings.TrimLeft(p.Name, "@")
		switch p.Direction {
		case command.Input:
			st.args = append(st.args, sql.Named(name, p.Value))
		case command.Output, command.InputOutput:
			in := p.Direction == command.InputOutput
			dest, get := newOutDest(p.Type, p.Value, in)
			st.args = append(st.args, sql.Named(name, sql.Out{Dest: dest, In: in}))
			st.bound = append(st.bound, boundOutput{param: p, get: get})
		case command.ReturnValue:
			if cmd.Type() == command.StoredProcedure {
				rs := new(mssql.ReturnStatus)
				st.args = append(st.args, rs)
				st.bound = append(st.bound, boundOutput{param: p, get: func() any { return int64(*rs) }})
			} else {
				st.selectOutputs = "SELECT CAST(@@IDENTITY AS BIGINT)"
				st.selectOutputsParams = []*command.Parameter{p}
			}
		}
	}
	return st, nil
}

// newOutDest allocates a typed destination for an output argument, since the
// driver derives the parameter type from it.
func newOutDest(t command.DbType, init any, in bool) (any, func() any) {
	switch t {
	case command.DbTypeInt32:
		v := new(int32)
		if in {
			*v = cast.ToInt32(init)
		}
		return v, func() any { return *v }
	case command.DbTypeInt64:
		v := new(int64)
		if in {
			*v = cast.ToInt64(init)
		}
		return v, func() any { return *v }
	case command.DbTypeFloat64:
		v := new(float64)
		if in {
			*v = cast.ToFloat64(init)
		}
		return v, func() any { return *v }
	case command.DbTypeBool:
		v := new(bool)
		if in {
			*v = cast.ToBool(init)
		}
		return v, func() any { return *v }
	case command.DbTypeDateTime:
		v := new(time.Time)
		if in {
			*v = cast.ToTime(init)
		}
		return v, func() any { return *v }
	case command.DbTypeBinary:
		v := new([]byte)
		if in {
			*v, _ = init.([]byte)
		}
		return v, func() any { return *v }
	default:
		v := new(string)
		if in {
			*v = cast.ToString(init)
		}
		return v, func() any { return *v }
	}
}
