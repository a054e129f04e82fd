// Package sql implements the dialect.Driver capability on top of database/sql
// and holds the dialect-aware pieces shared by the rendering layers.
//
// # Driver
//
// Open and OpenDB wrap a *sql.DB. Query scans into a *Rows whose
// ColumnScanner is the underlying *sql.Rows; callers own the rows and must
// close them on every path:
//
//	rows := &sql.Rows{}
//	if err := drv.Query(ctx, "SELECT id FROM orders", []any{}, rows); err != nil {
//	    return err
//	}
//	defer rows.Close()
//
// The PostgreSQL (lib/pq), MySQL (go-sql-driver/mysql) and SQLite
// (modernc.org/sqlite) drivers are linked in, so Open accepts any of the
// dialect names.
//
// # Builder
//
// Builder writes SQL text for one dialect: identifier quoting, $n or ?
// placeholders and inline literals.
//
//	b := sql.NewBuilder(dialect.Postgres)
//	b.WriteString("SELECT ").Column("o1", "id").WriteString(" FROM ").Ident("orders").
//	    WriteString(" WHERE ").Column("o1", "id").WriteString(" = ").Arg()
//	// SELECT "o1"."id" FROM "orders" WHERE "o1"."id" = $1
//
// # Errors
//
// Classify maps driver errors to loom.Category values; WrapError produces a
// *loom.ExecutionError that preserves the driver error as its cause.
//
// # Statistics
//
// StatsDriver and DebugDriver wrap any dialect.Driver to count statements,
// detect slow ones and log them.
package sql
