package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mdsync/internal/domain"
	"mdsync/internal/etl"
)

// maxRowsPerStatement keeps multi-row inserts under every driver's bind limit.
const maxRowsPerStatement = 500

// dialect captures the per-driver SQL differences.
type dialect struct {
	driverName  string
	quote       func(ident string) string
	placeholder func(n int) string // 1-based
	onConflict  func(d dialect, cols []string, key string) string
}

func doubleQuote(ident string) string { return `"` + ident + `"` }

func numberedPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func questionPlaceholder(int) string { return "?" }

// excludedUpdate is the ON CONFLICT form shared by Postgres and SQLite.
func excludedUpdate(d dialect, cols []string, key string) string {
	var sets []string
	for _, c := range cols {
		if c == key {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", d.quote(c), d.quote(c)))
	}
	if len(sets) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", d.quote(key))
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", d.quote(key), strings.Join(sets, ", "))
}

// sqlConnector is the shared implementation for MySQL, Postgres, and SQLite.
type sqlConnector struct {
	d     dialect
	db    *sql.DB
	table string
	key   string
}

// newSQLConnector opens a generic SQL connector.
func newSQLConnector(d dialect, dsn string, conn *domain.StagingConnection) (*sqlConnector, error) {
	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driverName, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return newSQLConnectorFromDB(d, db, conn), nil
}

func newSQLConnectorFromDB(d dialect, db *sql.DB, conn *domain.StagingConnection) *sqlConnector {
	table, key := conn.Table, conn.KeyColumn
	if table == "" {
		table = "trips"
	}
	if key == "" {
		key = etl.DefaultDedupeKey
	}
	return &sqlConnector{d: d, db: db, table: table, key: key}
}

func (c *sqlConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

// MostRecent returns the latest value of field staged for providerID, or "".
func (c *sqlConnector) MostRecent(ctx context.Context, providerID, field string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	q := fmt.Sprintf("SELECT %s FROM %s WHERE provider_id = %s ORDER BY %s DESC LIMIT 1",
		c.d.quote(field), c.d.quote(c.table), c.d.placeholder(1), c.d.quote(field))

	var v any
	err := c.db.QueryRowContext(ctx, q, providerID).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("most recent %s: %w", field, err)
	}
	return checkpointString(v), nil
}

// Upsert writes the batch in chunks inside one transaction.
func (c *sqlConnector) Upsert(ctx context.Context, batch *etl.Batch) (int, error) {
	if batch.Len() == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows := batch.Rows()
	written := 0
	for lo := 0; lo < len(rows); lo += maxRowsPerStatement {
		hi := min(lo+maxRowsPerStatement, len(rows))
		q, args := c.upsertStatement(batch.Columns, rows[lo:hi])
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("upsert rows %d-%d: %w", lo, hi, err)
		}
		written += hi - lo
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

func (c *sqlConnector) upsertStatement(cols []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(c.d.quote(c.table))
	b.WriteString(" (")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.d.quote(col))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for j, v := range row {
			if j > 0 {
				b.WriteString(",")
			}
			args = append(args, sqlValue(v))
			b.WriteString(c.d.placeholder(len(args)))
		}
		b.WriteString(")")
	}

	b.WriteString(c.d.onConflict(c.d, cols, c.key))
	return b.String(), args
}

// ClearRange deletes the provider's rows with end_time in [from, to).
func (c *sqlConnector) ClearRange(ctx context.Context, providerID, from, to string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	end := c.d.quote(etl.CheckpointField)
	q := fmt.Sprintf("DELETE FROM %s WHERE provider_id = %s AND %s >= %s AND %s < %s",
		c.d.quote(c.table), c.d.placeholder(1), end, c.d.placeholder(2), end, c.d.placeholder(3))
	res, err := c.db.ExecContext(ctx, q, providerID, from, to)
	if err != nil {
		return 0, fmt.Errorf("clear range: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (c *sqlConnector) Close() error {
	return c.db.Close()
}

// sqlValue flattens values drivers cannot bind (nested JSON) to strings.
func sqlValue(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, time.Time, []byte:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// checkpointString renders a staged timestamp in the form etl.ToNumeric parses.
func checkpointString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.UTC().Format("2006-01-02T15:04:05") + etl.DefaultTZSuffix
	case []byte:
		return string(val)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
