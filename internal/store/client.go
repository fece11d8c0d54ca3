// internal/store/client.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"libraledger/internal/store/adapters"
)

const (
	defaultTimeout = 3 * time.Second
	colID          = "id"

	logMsgSQLExecuted     = "executed sql for: "
	logMsgBuildFailed     = "failed to build sql"
	logMsgStatementFailed = "sql statement failed"
	logMsgCloseRowsFailed = "failed to close database rows"
	logAttrError          = "error"
	logAttrQuery          = "query"
	logAttrTable          = "table"
	logAttrDurationMS     = "duration_ms"

	actionUpdate = "update"
	actionInsert = "insert"
	actionQuery  = "query"
	actionScript = "script"
)

// Scanner is the read side of a single result row.
type Scanner interface {
	Scan(dest ...any) error
}

// RowFunc is invoked once per result row. Rows are only valid during the call.
type RowFunc func(row Scanner) error

// Client is the store client every component talks to. It renders goqu datasets for its dialect,
// bounds each call with a timeout and maps driver errors onto the package sentinels.
type Client struct {
	db      adapters.DBAdapter
	dialect Dialect
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option defines a functional option for configuring Client.
type Option func(*Client) error

// WithTimeout bounds every store call. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout < 0 {
			return fmt.Errorf("store timeout must not be negative, got %s", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithLogger sets the logger. SQL is logged at debug level with timings, failures at error level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// NewClient creates a Client on top of an adapter.
func NewClient(db adapters.DBAdapter, dialect Dialect, options ...Option) (*Client, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}
	if _, err := ParseDialect(string(dialect)); err != nil {
		return nil, err
	}

	c := &Client{
		db:      db,
		dialect: dialect,
		timeout: defaultTimeout,
		tracer:  otel.Tracer("libraledger/store"),
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// NewClientFromPGXPool creates a Postgres Client using a pgx pool.
func NewClientFromPGXPool(pool *pgxpool.Pool, options ...Option) (*Client, error) {
	if pool == nil {
		return nil, ErrNilDatabaseConnection
	}
	return NewClient(adapters.NewPGXAdapter(pool), DialectPostgres, options...)
}

// NewClientFromSQLDB creates a Client using a sql.DB opened with a driver matching dialect.
func NewClientFromSQLDB(db *sql.DB, dialect Dialect, options ...Option) (*Client, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}
	return NewClient(adapters.NewSQLAdapter(db), dialect, options...)
}

// NewClientFromSQLX creates a Client using a sqlx.DB.
func NewClientFromSQLX(db *sqlx.DB, dialect Dialect, options ...Option) (*Client, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}
	return NewClient(adapters.NewSQLXAdapter(db), dialect, options...)
}

// Dialect returns the dialect statements are rendered in.
func (c *Client) Dialect() Dialect {
	return c.dialect
}

// From starts a select dataset in the client's dialect, for use with QueryDataset
// or as a subquery inside a match expression.
func (c *Client) From(table ...any) *goqu.SelectDataset {
	return c.dialect.builder().From(table...)
}

// ConditionalUpdate applies values to every row of table matching match, in one statement,
// and returns the number of rows affected. Callers use rowsAffected as the outcome of a
// compare-and-set: the match expression carries the expected state.
func (c *Client) ConditionalUpdate(ctx context.Context, table string, match exp.Expression, values goqu.Record) (int64, error) {
	query, args, err := c.dialect.builder().
		Update(table).
		Set(values).
		Where(match).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, c.buildFailed(table, err)
	}

	ctx, span := c.startSpan(ctx, actionUpdate, table)
	defer span.End()

	result, err := c.exec(ctx, actionUpdate, table, query, args)
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		recordSpanError(span, err)
		return 0, classify(err)
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", affected))
	return affected, nil
}

// Insert adds one row and returns its generated id.
func (c *Client) Insert(ctx context.Context, table string, values goqu.Record) (int64, error) {
	ds := c.dialect.builder().Insert(table).Rows(values)
	if c.dialect.supportsReturning() {
		ds = ds.Returning(goqu.C(colID))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return 0, c.buildFailed(table, err)
	}

	ctx, span := c.startSpan(ctx, actionInsert, table)
	defer span.End()

	var id int64
	if c.dialect.supportsReturning() {
		found := false
		err = c.query(ctx, actionInsert, table, query, args, func(row Scanner) error {
			found = true
			return row.Scan(&id)
		})
		if err == nil && !found {
			err = ErrNoIdentity
		}
	} else {
		var result adapters.DBResult
		result, err = c.exec(ctx, actionInsert, table, query, args)
		if err == nil {
			id, err = result.LastInsertId()
			if err != nil {
				err = errors.Join(ErrNoIdentity, err)
			}
		}
	}

	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("db.inserted_id", id))
	return id, nil
}

// InsertRecord adds one row to a table whose key is supplied by the caller.
func (c *Client) InsertRecord(ctx context.Context, table string, values goqu.Record) error {
	query, args, err := c.dialect.builder().Insert(table).Rows(values).Prepared(true).ToSQL()
	if err != nil {
		return c.buildFailed(table, err)
	}

	ctx, span := c.startSpan(ctx, actionInsert, table)
	defer span.End()

	if _, err := c.exec(ctx, actionInsert, table, query, args); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

// Query selects columns from table where predicate holds and hands each row to each.
// A nil predicate selects every row.
func (c *Client) Query(ctx context.Context, table string, predicate exp.Expression, each RowFunc, columns ...any) error {
	ds := c.From(table).Select(columns...)
	if predicate != nil {
		ds = ds.Where(predicate)
	}
	return c.queryDataset(ctx, table, ds, each)
}

// QueryDataset runs an arbitrary select built from From.
func (c *Client) QueryDataset(ctx context.Context, ds *goqu.SelectDataset, each RowFunc) error {
	return c.queryDataset(ctx, "", ds, each)
}

// ExecScript runs raw SQL without arguments. Used for schema migrations.
func (c *Client) ExecScript(ctx context.Context, script string) error {
	ctx, span := c.startSpan(ctx, actionScript, "")
	defer span.End()

	if _, err := c.exec(ctx, actionScript, "", script, nil); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

// Close releases the underlying connection or pool.
func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) queryDataset(ctx context.Context, table string, ds *goqu.SelectDataset, each RowFunc) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return c.buildFailed(table, err)
	}

	ctx, span := c.startSpan(ctx, actionQuery, table)
	defer span.End()

	if err := c.query(ctx, actionQuery, table, query, args, each); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

func (c *Client) exec(ctx context.Context, action, table, query string, args []any) (adapters.DBResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	result, err := c.db.Exec(ctx, query, args...)
	c.logQueryWithDuration(query, action, time.Since(start))

	if err != nil {
		c.logError(logMsgStatementFailed, err, logAttrTable, table, logAttrQuery, query)
		return nil, classify(err)
	}
	return result, nil
}

// query runs a statement and drains its rows before returning, so the timeout context
// can be released and single-connection pools are free for the next call.
func (c *Client) query(ctx context.Context, action, table, query string, args []any, each RowFunc) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		c.logQueryWithDuration(query, action, time.Since(start))
		c.logError(logMsgStatementFailed, err, logAttrTable, table, logAttrQuery, query)
		return classify(err)
	}
	defer c.closeRows(rows)

	for rows.Next() {
		if err := each(rows); err != nil {
			return err
		}
	}
	c.logQueryWithDuration(query, action, time.Since(start))

	if err := rows.Err(); err != nil {
		c.logError(logMsgStatementFailed, err, logAttrTable, table, logAttrQuery, query)
		return classify(err)
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) startSpan(ctx context.Context, action, table string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "store."+action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", string(c.dialect)),
			attribute.String("db.table", table),
		),
	)
}

func (c *Client) buildFailed(table string, err error) error {
	c.logError(logMsgBuildFailed, err, logAttrTable, table)
	return errors.Join(ErrBuildingQueryFailed, err)
}

func (c *Client) closeRows(rows adapters.DBRows) {
	if err := rows.Close(); err != nil && c.logger != nil {
		c.logger.Warn(logMsgCloseRowsFailed, logAttrError, err.Error())
	}
}

func (c *Client) logQueryWithDuration(query, action string, duration time.Duration) {
	if c.logger != nil {
		c.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, query)
	}
}

func (c *Client) logError(message string, err error, args ...any) {
	if c.logger != nil {
		allArgs := []any{logAttrError, err.Error()}
		allArgs = append(allArgs, args...)
		c.logger.Error(message, allArgs...)
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
