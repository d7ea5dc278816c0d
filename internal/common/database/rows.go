package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Table is a scanned result set with column order preserved.
type Table struct {
	Columns   []string
	Rows      [][]interface{}
	Truncated bool
}

// ScanRows reads rows into a Table, keeping at most maxRows when maxRows > 0.
// The remaining rows are drained so the connection is returned cleanly.
// []byte values become strings.
func ScanRows(rows *sql.Rows, maxRows int) (*Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	t := &Table{Columns: cols, Rows: [][]interface{}{}}
	for rows.Next() {
		if maxRows > 0 && len(t.Rows) >= maxRows {
			t.Truncated = true
			continue
		}

		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		t.Rows = append(t.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// FormatValue renders one scanned value as text for prompts and tables.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// QuoteIdent quotes a table or column name for driver.
func QuoteIdent(driver, name string) string {
	if driver == "mysql" {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Placeholder returns the n-th (1-based) bind parameter for driver.
func Placeholder(driver string, n int) string {
	if driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}
