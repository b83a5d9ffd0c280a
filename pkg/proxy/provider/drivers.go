package provider

import (
	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
)

// DefaultDrivers maps server types to the database/sql driver used unless
// overridden. lib/pq is registered as "postgres".
var DefaultDrivers = map[ServerType]string{
	SQLServer:  "sqlserver",
	MySQL:      "mysql",
	PostgreSQL: "pgx",
	SQLite:     "sqlite",
}
