package postgres

import (
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/juju/errors"
	"github.com/lib/pq"
)

// classify maps driver errors onto the juju/errors classes callers test for.
// what names the row involved, e.g. "namespace 12".
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFoundf("%s", what)
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgerrcode.UniqueViolation:
			return errors.AlreadyExistsf("%s", what)
		case pgerrcode.ForeignKeyViolation, pgerrcode.RestrictViolation:
			return errors.NotValidf("%s references missing or dependent rows (%s)", what, pqErr.Constraint)
		case pgerrcode.CheckViolation, pgerrcode.NotNullViolation, pgerrcode.InvalidTextRepresentation:
			return errors.NotValidf("%s: %s", what, pqErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// mustAffect turns a zero-row update or delete into NotFound.
func mustAffect(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return errors.NotFoundf("%s", what)
	}
	return nil
}
