package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"inventory-forecast/internal/features"

	"github.com/rs/zerolog/log"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Querier is the part of *sql.DB the loader needs.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLSource loads every row of a table.
type SQLSource struct {
	DB    Querier
	Table string
}

func (s SQLSource) Load(ctx context.Context) (*Dataset, error) {
	return LoadTable(ctx, s.DB, s.Table)
}

// LoadTable runs SELECT * on table and converts each cell.
func LoadTable(ctx context.Context, db Querier, table string) (*Dataset, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	ds := New(columns)
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(features.RawInput, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		ds.Rows = append(ds.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	log.Info().Str("table", table).Int("rows", ds.Len()).Msg("dataset loaded from database")
	return ds, nil
}

// convertValue normalizes driver values. MySQL returns DECIMAL and text
// columns as []byte.
func convertValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return parseCell(string(t))
	case string:
		return parseCell(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case int:
		return float64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case bool:
		if t {
			return 1.0
		}
		return 0.0
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
