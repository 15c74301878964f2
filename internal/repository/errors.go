package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/joseph-ayodele/doc-translator/internal/common"
)

// classify maps driver errors onto the store error taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return common.NewAppError(common.CodeAlreadyExists, op, errors.Join(common.ErrAlreadyExists, err))
	case isUnavailable(err):
		return common.StoreUnavailable(op, err)
	default:
		return common.NewAppError("DATABASE_ERROR", op, errors.Join(common.ErrDatabase, err))
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == int(sqlite3.SQLITE_CONSTRAINT)
	}
	return false
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// connection exceptions, insufficient resources, operator intervention,
		// serialization failures and deadlocks are all worth a retry
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57P"):
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		}
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == int(sqlite3.SQLITE_BUSY) || code == int(sqlite3.SQLITE_LOCKED)
	}
	return strings.Contains(err.Error(), "closed pool") || strings.Contains(err.Error(), "database is closed")
}
