package gorm

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/thebtf/codeaudit/pkg/models"
)

// PostgreSQL error codes relevant to constraint classification.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// classifyError maps driver errors onto the domain error taxonomy. Raw
// driver errors never cross the store boundary.
//
// Foreign-key violations surface as ErrNotFound: the referenced entity is
// absent as far as the caller can tell. Uniqueness and check violations
// surface as classified ConstraintErrors.
func classifyError(err error, table string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return models.ErrNotFound
		case pgUniqueViolation:
			return &models.ConstraintError{Kind: models.ConstraintUnique, Table: table, Detail: pgErr.Detail}
		case pgCheckViolation:
			return &models.ConstraintError{Kind: models.ConstraintDomain, Table: table, Detail: pgErr.ConstraintName}
		}
		return err
	}

	// sqlite reports constraint failures as text.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return models.ErrNotFound
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return &models.ConstraintError{Kind: models.ConstraintUnique, Table: table, Detail: msg}
	case strings.Contains(msg, "CHECK constraint failed"):
		return &models.ConstraintError{Kind: models.ConstraintDomain, Table: table, Detail: msg}
	}

	return err
}
