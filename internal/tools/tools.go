// ABOUTME: Database tool handlers: query, list_tables, describe_table.
// ABOUTME: Shapes rows into protocol-neutral value trees via the pool.
package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"pgmcp/internal/pool"
	"pgmcp/internal/protocol"
	"pgmcp/internal/registry"
)

// Tool names as exposed over the protocol.
const (
	NameQuery         = "postgres_query"
	NameListTables    = "postgres_list_tables"
	NameDescribeTable = "postgres_describe_table"
)

// Source hands out pooled connections. Satisfied by *pool.Pool.
type Source interface {
	Acquire(ctx context.Context) (*pool.Conn, error)
	Release(c *pool.Conn)
}

// Tools bundles the three database tool handlers.
type Tools struct {
	src Source
}

// New returns the tool set backed by the given connection source.
func New(src Source) *Tools {
	return &Tools{src: src}
}

// Register adds all three tool descriptors and handlers to the
// registry. Descriptor order is the order clients see in tools/list.
func (t *Tools) Register(reg *registry.Registry) {
	reg.Register(registry.Descriptor{
		Name:        NameQuery,
		Description: "Execute a SQL query on the PostgreSQL database. Use this to SELECT, INSERT, UPDATE, or DELETE data. Statements run exactly as given, including mutating and destructive ones; restrict access at the database role level.",
		InputSchema: registry.Schema{
			Type: "object",
			Properties: map[string]registry.Property{
				"query": {
					Type:        "string",
					Description: "The SQL query to execute (e.g. SELECT * FROM employees WHERE department='Engineering')",
				},
			},
			Required: []string{"query"},
		},
	}, t.Query)

	reg.Register(registry.Descriptor{
		Name:        NameListTables,
		Description: "List all tables in the current PostgreSQL database",
		InputSchema: registry.Schema{
			Type:       "object",
			Properties: map[string]registry.Property{},
			Required:   []string{},
		},
	}, t.ListTables)

	reg.Register(registry.Descriptor{
		Name:        NameDescribeTable,
		Description: "Get the schema/structure of a specific table including column names and types",
		InputSchema: registry.Schema{
			Type: "object",
			Properties: map[string]registry.Property{
				"table_name": {
					Type:        "string",
					Description: "Name of the table to describe",
				},
			},
			Required: []string{"table_name"},
		},
	}, t.DescribeTable)
}

// rowReturning reports whether the statement yields a row set. The
// check mirrors the classification the original gateway used, with
// leading whitespace and SQL comments skipped.
var rowReturningRe = regexp.MustCompile(`(?is)^\s*(?:--[^\n]*\n\s*|/\*.*?\*/\s*)*(SELECT|WITH|SHOW|EXPLAIN|VALUES|TABLE)\b`)

func rowReturning(query string) bool {
	return rowReturningRe.MatchString(query)
}

// Query executes caller-supplied SQL exactly as given. No LIMIT is
// injected and nothing is rewritten; mutating statements execute.
func (t *Tools) Query(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "query must be a non-empty string")
	}

	conn, err := t.src.Acquire(ctx)
	if err != nil {
		return nil, acquireError(err)
	}
	defer t.src.Release(conn)

	if rowReturning(query) {
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return nil, executionError(err)
		}
		data, err := collectRows(rows)
		if err != nil {
			return nil, executionError(err)
		}
		return map[string]any{
			"success":   true,
			"data":      data,
			"row_count": len(data),
		}, nil
	}

	res, err := conn.ExecContext(ctx, query)
	if err != nil {
		return nil, executionError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return map[string]any{
		"success":       true,
		"message":       fmt.Sprintf("Query executed successfully. Rows affected: %d", affected),
		"affected_rows": affected,
	}, nil
}

const listTablesQuery = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name`

// ListTables returns the table names of the public schema in catalog
// order.
func (t *Tools) ListTables(ctx context.Context, args map[string]any) (any, error) {
	conn, err := t.src.Acquire(ctx)
	if err != nil {
		return nil, acquireError(err)
	}
	defer t.src.Release(conn)

	rows, err := conn.QueryContext(ctx, listTablesQuery)
	if err != nil {
		return nil, executionError(err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, executionError(err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, executionError(err)
	}

	return map[string]any{
		"success": true,
		"tables":  tables,
		"count":   len(tables),
	}, nil
}

// identRe matches a safe PostgreSQL identifier. Table names cannot be
// bound as query parameters, so this check is the injection boundary
// for describe_table.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

const maxIdentLen = 63 // PostgreSQL identifier length cap

const describeTableQuery = `SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = '%s'
ORDER BY ordinal_position`

// DescribeTable returns column descriptors for one table in ordinal
// order. The name is validated strictly before it is interpolated
// into the catalog query.
func (t *Tools) DescribeTable(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["table_name"].(string)
	if name == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "table_name must be a non-empty string")
	}
	if len(name) > maxIdentLen || !identRe.MatchString(name) {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "table_name %q is not a valid identifier", name)
	}

	conn, err := t.src.Acquire(ctx)
	if err != nil {
		return nil, acquireError(err)
	}
	defer t.src.Release(conn)

	rows, err := conn.QueryContext(ctx, fmt.Sprintf(describeTableQuery, name))
	if err != nil {
		return nil, executionError(err)
	}
	defer rows.Close()

	columns := []map[string]any{}
	for rows.Next() {
		var colName, dataType, isNullable string
		var colDefault sql.NullString
		if err := rows.Scan(&colName, &dataType, &isNullable, &colDefault); err != nil {
			return nil, executionError(err)
		}
		var def any
		if colDefault.Valid {
			def = colDefault.String
		}
		columns = append(columns, map[string]any{
			"column_name":    colName,
			"data_type":      dataType,
			"is_nullable":    isNullable,
			"column_default": def,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, executionError(err)
	}

	if len(columns) == 0 {
		return nil, protocol.Errorf(protocol.CodeNotFound, "table %q does not exist in the current schema", name)
	}

	return map[string]any{
		"success": true,
		"table":   name,
		"columns": columns,
	}, nil
}

// collectRows converts a row set into ordered maps of protocol-neutral
// scalars. Column order mirrors the database's column order.
func collectRows(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = neutralValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// neutralValue maps driver values onto the protocol-neutral scalar
// set. Binary and temporal types are stringified.
func neutralValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return v
	}
}

func acquireError(err error) error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, pool.ErrExhausted) {
		return protocol.Errorf(protocol.CodePoolExhausted, "no database connection available: %v", err)
	}
	return protocol.Errorf(protocol.CodeInternalError, "acquire database connection: %v", err)
}

func executionError(err error) error {
	return protocol.Errorf(protocol.CodeInternalError, "query execution error: %v", err)
}
