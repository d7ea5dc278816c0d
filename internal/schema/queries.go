package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// Column is one column of an introspected table.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// dialectQueries holds the catalog queries for one driver. The columns query
// takes the table name as its only parameter and returns name, type and an
// is_nullable YES/NO flag.
type dialectQueries struct {
	tables  string
	columns string
}

var registry = map[string]dialectQueries{
	"postgres": {
		tables: `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
ORDER BY table_name`,
		columns: `SELECT column_name, data_type, is_nullable FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`,
	},
	"mysql": {
		tables: `SELECT table_name FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
ORDER BY table_name`,
		columns: `SELECT column_name, column_type, is_nullable FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ?
ORDER BY ordinal_position`,
	},
	"sqlite": {
		tables: `SELECT name FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`,
		columns: `SELECT name, type, CASE "notnull" WHEN 1 THEN 'NO' ELSE 'YES' END
FROM pragma_table_info(?)
ORDER BY cid`,
	},
}

func queriesFor(driver string) (dialectQueries, error) {
	q, ok := registry[driver]
	if !ok {
		return dialectQueries{}, fmt.Errorf("schema introspection not supported for %q", driver)
	}
	return q, nil
}

func listTables(ctx context.Context, db *sql.DB, q dialectQueries) ([]string, error) {
	rows, err := db.QueryContext(ctx, q.tables)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func listColumns(ctx context.Context, db *sql.DB, q dialectQueries, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, q.columns, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			c        Column
			nullable string
		)
		if err := rows.Scan(&c.Name, &c.Type, &nullable); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		c.Nullable = nullable != "NO"
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
