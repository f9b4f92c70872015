// Package mysqlquery implements a parameterized-query action against
// MySQL. Grounded on internal/node/runtime/nodes/mysql_node.go's
// executeQuery/scanRows (SELECT-vs-exec detection by statement prefix,
// row scanning into maps with opportunistic JSON decode of []byte
// columns), reworked to hold a single pooled *sql.DB (set up once at
// host startup) instead of opening a fresh connection per execution.
// Library: github.com/go-sql-driver/mysql via database/sql.
package mysqlquery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prana-run/prana/internal/action"
)

// Action runs one parameterized SQL statement per invocation against a
// shared connection pool.
type Action struct {
	action.NopPrepare
	action.NopResume

	DB *sql.DB
}

func (a Action) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	query, _ := rendered["query"].(string)
	if query == "" {
		return action.Result{}, fmt.Errorf("mysqlquery: query is required")
	}
	params := toParams(rendered["params"])

	if isSelect(query) {
		rows, err := a.DB.QueryContext(ctx, query, params...)
		if err != nil {
			return action.Result{}, fmt.Errorf("mysqlquery: %w", err)
		}
		defer rows.Close()
		result, err := scanRows(rows)
		if err != nil {
			return action.Result{}, fmt.Errorf("mysqlquery: scanning rows: %w", err)
		}
		return action.Completed(result), nil
	}

	result, err := a.DB.ExecContext(ctx, query, params...)
	if err != nil {
		return action.Result{}, fmt.Errorf("mysqlquery: %w", err)
	}
	affected, _ := result.RowsAffected()
	lastID, _ := result.LastInsertId()
	return action.Completed(map[string]interface{}{
		"affected_rows":  affected,
		"last_insert_id": lastID,
	}), nil
}

func isSelect(query string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT")
}

func toParams(v interface{}) []interface{} {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	return list
}

func scanRows(rows *sql.Rows) (map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = decodeValue(values[i])
		}
		results = append(results, row)
	}

	return map[string]interface{}{"rows": results, "count": len(results)}, nil
}

func decodeValue(v interface{}) interface{} {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	var parsed interface{}
	if err := json.Unmarshal(b, &parsed); err == nil {
		return parsed
	}
	return string(b)
}

// Register adds the MySQL query action under the "mysql" integration.
func Register(r *action.Registry, db *sql.DB) error {
	return r.Register(action.Descriptor{
		IntegrationName: "mysql",
		ActionName:      "query",
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success"},
		Action:          Action{DB: db},
	})
}
