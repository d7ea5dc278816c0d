// Package executor runs one validated statement and reports rows or a typed
// database failure.
package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"

	"sql-assistant/internal/common/database"
	apperrors "sql-assistant/internal/common/errors"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/common/metrics"
	"sql-assistant/internal/models"
)

type Config struct {
	// ReadOnly rejects anything but SELECT and WITH before it reaches the
	// database.
	ReadOnly     bool
	MaxRows      int
	QueryTimeout time.Duration
}

var (
	// INTO covers SELECT ... INTO new_table and INTO OUTFILE / DUMPFILE.
	writeKeyword = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|DROP|ALTER|TRUNCATE|CREATE|GRANT|REVOKE|ATTACH|DETACH|VACUUM|PRAGMA|INTO|COPY|CALL|LOCK)\b`)
	writeFunc    = regexp.MustCompile(`(?i)\b(NEXTVAL|SETVAL|LO_IMPORT|LO_EXPORT|PG_TERMINATE_BACKEND)\s*\(`)
)

type Executor struct {
	db     *sql.DB
	driver string
	cfg    Config
	logger logger.Logger
}

func New(db *sql.DB, driver string, cfg Config, log logger.Logger) *Executor {
	return &Executor{
		db:     db,
		driver: driver,
		cfg:    cfg,
		logger: log.WithFields(map[string]interface{}{"stage": apperrors.StageExecute, "driver": driver}),
	}
}

// Execute never returns nil. A failure is reported in result.Failure; zero
// rows is a success.
func (e *Executor) Execute(ctx context.Context, q models.ValidatedQuery) *models.ExecutionResult {
	start := time.Now()
	result := &models.ExecutionResult{}

	if reason := e.check(q); reason != "" {
		result.Failure = &apperrors.DatabaseError{
			Code:    string(apperrors.ErrCodeStatementNotAllowed),
			Message: reason,
		}
		e.logger.Warn("statement rejected", map[string]interface{}{"kind": q.Kind, "reason": reason})
		return result
	}

	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	rows, err := e.db.QueryContext(ctx, q.SQL)
	if err != nil {
		result.Failure = e.classify(ctx, err)
		result.Duration = time.Since(start)
		return result
	}
	defer rows.Close()

	table, err := database.ScanRows(rows, e.cfg.MaxRows)
	if err != nil {
		result.Failure = e.classify(ctx, err)
		result.Duration = time.Since(start)
		return result
	}

	result.Columns = table.Columns
	result.Rows = table.Rows
	result.RowCount = len(table.Rows)
	result.Truncated = table.Truncated
	result.Duration = time.Since(start)

	metrics.QueryRowsReturned.WithLabelValues(e.driver).Observe(float64(result.RowCount))
	e.logger.Debug("statement executed", map[string]interface{}{
		"rows":       result.RowCount,
		"truncated":  result.Truncated,
		"durationMs": result.Duration.Milliseconds(),
	})
	return result
}

// check returns why q may not run, or "". Keywords are matched on the
// statement with literals, quoted identifiers and comments blanked out, so a
// WITH wrapping a DELETE is caught and a column named "update" is not.
func (e *Executor) check(q models.ValidatedQuery) string {
	code, semis := database.NewLexer(e.driver).Code(q.SQL)
	if semis > 0 {
		return "exactly one statement may run, found a ';' outside quotes"
	}
	if !e.cfg.ReadOnly {
		return ""
	}
	if !q.Kind.ReadOnly() {
		return "only SELECT and WITH statements may run in read-only mode, got " + string(q.Kind)
	}
	if m := writeKeyword.FindString(code); m != "" {
		return "read-only mode does not allow " + strings.ToUpper(m) + " in a " + string(q.Kind) + " statement"
	}
	if m := writeFunc.FindStringSubmatch(code); m != nil {
		return "read-only mode does not allow " + strings.ToLower(m[1]) + "()"
	}
	return ""
}

// classify keeps the driver's native error code.
func (e *Executor) classify(ctx context.Context, err error) *apperrors.DatabaseError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &apperrors.DatabaseError{Code: string(apperrors.ErrCodeQueryTimeout), Message: "query timed out"}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &apperrors.DatabaseError{Code: string(pqErr.Code), Message: pqErr.Message}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return &apperrors.DatabaseError{Code: strconv.Itoa(int(myErr.Number)), Message: myErr.Message}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return &apperrors.DatabaseError{Code: strconv.Itoa(liteErr.Code()), Message: liteErr.Error()}
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return &apperrors.DatabaseError{Code: string(apperrors.ErrCodeDatabaseConnectionFailed), Message: err.Error()}
	}

	return &apperrors.DatabaseError{Code: string(apperrors.ErrCodeQueryExecutionFailed), Message: err.Error()}
}
