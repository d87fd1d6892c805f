package mci_json2tsv

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	dbsql "github.com/databricks/databricks-sql-go"
)

// insertBatchSize bounds the VALUES groups per INSERT statement.
const insertBatchSize = 100

// DatabricksService publishes the integrated table into a SQL Warehouse
// table so downstream consumers can query the run output without touching
// the workbook.
type DatabricksService struct {
	db     *sql.DB
	schema string
	table  string
}

func NewDatabricksService(token, hostname, httpPath, schema, table string, port int) (*DatabricksService, func(), error) {
	connector, err := dbsql.NewConnector(
		dbsql.WithServerHostname(hostname),
		dbsql.WithPort(port),
		dbsql.WithHTTPPath(httpPath),
		dbsql.WithAccessToken(token),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("Cannot create a databricks connector: %v", err)
	}
	db := sql.OpenDB(connector)
	close := func() { db.Close() }
	return &DatabricksService{db: db, schema: schema, table: table}, close, nil
}

// PublishIntegrated replaces the warehouse table with the merged table's
// contents: all columns STRING, one warehouse row per merged row.
func (d *DatabricksService) PublishIntegrated(ctx context.Context, t *Table) error {
	if t.Empty() {
		return fmt.Errorf("integrated table is empty, nothing to publish")
	}

	qualified := fmt.Sprintf("%s.%s", quoteIdent(d.schema), quoteIdent(d.table))

	cols := make([]string, len(t.Columns))
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quoteIdent(c)
		defs[i] = cols[i] + " STRING"
	}

	createStmt := fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", qualified, strings.Join(defs, ", "))
	if _, err := d.db.ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("Failed to create table %s: %q", qualified, err)
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(t.Columns)), ",") + ")"
	for start := 0; start < len(t.Rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		batch := t.Rows[start:end]

		groups := make([]string, len(batch))
		args := make([]any, 0, len(batch)*len(t.Columns))
		for i, r := range batch {
			groups[i] = placeholder
			for _, c := range t.Columns {
				args = append(args, r[c])
			}
		}
		insertStmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", qualified, strings.Join(cols, ", "), strings.Join(groups, ", "))
		if _, err := d.db.ExecContext(ctx, insertStmt, args...); err != nil {
			return fmt.Errorf("Failed to insert rows into %s: %q", qualified, err)
		}
	}
	return nil
}

// quoteIdent backtick-quotes an identifier; the mapping labels carry
// spaces.
func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "") + "`"
}
