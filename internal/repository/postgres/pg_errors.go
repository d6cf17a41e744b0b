package postgres

import (
	"errors"
	"fmt"

	pgconnv1 "github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ticketvia/seatlease/internal/repository"
)

// pgErrCode extracts the SQLSTATE code. The pool returns pgx/v5 errors; the
// v1 pgconn type is matched as well so errors from older driver paths map
// the same way.
func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	var pgErrV1 *pgconnv1.PgError
	if errors.As(err, &pgErrV1) {
		return pgErrV1.Code
	}

	return ""
}

func IsRetryable(err error) bool {
	switch pgErrCode(err) {
	// serialization_failure, deadlock_detected
	case "40001", "40P01":
		return true
	}

	return false
}

func translateDBErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}

	// unique_violation
	if pgErrCode(err) == "23505" {
		return repository.ErrConflict
	}

	return err
}

// wrapDBErr maps common DB errors to repository-level errors and wraps them
// with the provided operation name.
func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s:%w", op, translateDBErr(err))
}
