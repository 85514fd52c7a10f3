package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/kbguard/pkg/errors"
)

var (
	// ErrConcurrentGrant indicates another writer activated a grant on the same scope first.
	ErrConcurrentGrant = apperrors.New("CONCURRENT_GRANT", "A concurrent change to this grant scope was detected; retry the request", http.StatusConflict)
	// ErrSystemRoleImmutable prevents destructive operations on system roles.
	ErrSystemRoleImmutable = apperrors.New("ROLE_IMMUTABLE", "System roles cannot be modified", http.StatusBadRequest)
	// ErrRoleInUse prevents renaming or deleting a role that grants reference.
	ErrRoleInUse = apperrors.New("ROLE_IN_USE", "Role is referenced by grants", http.StatusConflict)
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate")
}

// storeError maps a failed store write onto the error taxonomy. Writes are never retried.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if isUniqueConstraintError(err) {
		return ErrConcurrentGrant.WithInternal(err)
	}
	return apperrors.Infrastructure(err)
}
