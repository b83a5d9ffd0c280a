package metrics

import (
	"strings"
	"sync"

	"github.com/pingcap/parser"
	"github.com/pingcap/parser/ast"
	_ "github.com/pingcap/parser/test_driver"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	StmtNameUnknown   = "unknown"
	StmtNameSelect    = "select"
	StmtNameInsert    = "insert"
	StmtNameUpdate    = "update"
	StmtNameDelete    = "delete"
	StmtNameDDL       = "ddl"
	StmtNameBegin     = "begin"
	StmtNameCommit    = "commit"
	StmtNameRollback  = "rollback"
	StmtNameSet       = "set"
	StmtNameShow      = "show"
	StmtNameUse       = "use"
	StmtNameCall      = "call"
	StmtNameProcedure = "procedure"
)

var (
	CommandCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ModuleRepoGate,
			Subsystem: LabelCommand,
			Name:      "command_total",
			Help:      "Counter of executed commands.",
		}, []string{LblRepository, LblCluster, LblSQLType, LblResult})

	CommandDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ModuleRepoGate,
			Subsystem: LabelCommand,
			Name:      "handle_command_duration_seconds",
			Help:      "Bucketed histogram of processing time (s) of commands.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 29), // 0.5ms ~ 1.5days
		}, []string{LblRepository, LblSQLType})

	CommandErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ModuleRepoGate,
			Subsystem: LabelCommand,
			Name:      "command_error_total",
			Help:      "Counter of failed commands by error kind.",
		}, []string{LblRepository, LblKind})
)

var parserPool = sync.Pool{New: func() any { return parser.New() }}

// GetCommandTypeName classifies a command for the sql_type label. Statements
// the MySQL parser cannot read are classified by their leading keyword.
func GetCommandTypeName(procedure bool, text string) string {
	if procedure {
		return StmtNameProcedure
	}
	p := parserPool.Get().(*parser.Parser)
	stmt, err := p.ParseOneStmt(text, "", "")
	parserPool.Put(p)
	if err == nil {
		return GetStmtTypeName(stmt)
	}
	return getKeywordTypeName(text)
}

func GetStmtTypeName(stmt ast.StmtNode) string {
	switch stmt.(type) {
	case *ast.SelectStmt:
		return StmtNameSelect
	case *ast.InsertStmt:
		return StmtNameInsert
	case *ast.UpdateStmt:
		return StmtNameUpdate
	case *ast.DeleteStmt:
		return StmtNameDelete
	case *ast.BeginStmt:
		return StmtNameBegin
	case *ast.CommitStmt:
		return StmtNameCommit
	case *ast.RollbackStmt:
		return StmtNameRollback
	case *ast.SetStmt:
		return StmtNameSet
	case *ast.ShowStmt:
		return StmtNameShow
	case *ast.UseStmt:
		return StmtNameUse
	case ast.DDLNode:
		return StmtNameDDL
	default:
		return StmtNameUnknown
	}
}

var keywordTypeNames = map[string]string{
	"select":   StmtNameSelect,
	"with":     StmtNameSelect,
	"insert":   StmtNameInsert,
	"update":   StmtNameUpdate,
	"delete":   StmtNameDelete,
	"merge":    StmtNameUpdate,
	"create":   StmtNameDDL,
	"alter":    StmtNameDDL,
	"drop":     StmtNameDDL,
	"truncate": StmtNameDDL,
	"begin":    StmtNameBegin,
	"commit":   StmtNameCommit,
	"rollback": StmtNameRollback,
	"set":      StmtNameSet,
	"call":     StmtNameCall,
	"exec":     StmtNameCall,
	"execute":  StmtNameCall,
}

func getKeywordTypeName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return StmtNameUnknown
	}
	if name, ok := keywordTypeNames[strings.ToLower(fields[0])]; ok {
		return name
	}
	return StmtNameUnknown
}
