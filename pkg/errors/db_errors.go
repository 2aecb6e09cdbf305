// Package errors classifies database errors from the grading task store.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DatabaseErrorType represents the type of database error.
type DatabaseErrorType int

const (
	// ErrorTypeUnknown represents an unknown database error.
	ErrorTypeUnknown DatabaseErrorType = iota
	// ErrorTypeNotFound represents a record not found error.
	ErrorTypeNotFound
	// ErrorTypeDuplicateKey represents a duplicate key constraint violation (MySQL 1062).
	ErrorTypeDuplicateKey
	// ErrorTypeInvalidJSON represents an invalid JSON data error (MySQL 3140-3143).
	// Grading results and rubric criteria are stored as JSON columns.
	ErrorTypeInvalidJSON
	// ErrorTypeDataTooLong represents a data too long error (MySQL 1406).
	ErrorTypeDataTooLong
	// ErrorTypeDeadlock represents a deadlock error (MySQL 1213).
	ErrorTypeDeadlock
	// ErrorTypeConnectionError represents a database connection error.
	ErrorTypeConnectionError
)

// mysqlCodes maps the MySQL server error numbers the grading tables can
// produce onto their classification.
var mysqlCodes = map[uint16]struct {
	typ DatabaseErrorType
	msg string
}{
	1062: {ErrorTypeDuplicateKey, "duplicate key constraint violation"},
	1406: {ErrorTypeDataTooLong, "data too long for column"},
	1213: {ErrorTypeDeadlock, "deadlock detected"},
	3140: {ErrorTypeInvalidJSON, "invalid JSON data"},
	3141: {ErrorTypeInvalidJSON, "invalid JSON data"},
	3142: {ErrorTypeInvalidJSON, "invalid JSON data"},
	3143: {ErrorTypeInvalidJSON, "invalid JSON data"},
}

var connectionKeywords = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"connection lost",
	"can't connect",
	"dial tcp",
}

// DatabaseError wraps a database error with classification information.
type DatabaseError struct {
	Type         DatabaseErrorType
	OriginalErr  error
	MySQLErrCode uint16
	Message      string
}

func (e *DatabaseError) Error() string {
	if e.MySQLErrCode > 0 {
		return fmt.Sprintf("%s (MySQL error %d): %v", e.Message, e.MySQLErrCode, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap keeps errors.Is and errors.As working through the wrapper.
func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// ClassifyDBError classifies a database error into a specific error type.
// The grading store mostly cares about not-found (task lookup misses),
// invalid JSON (result/criteria columns) and transient connection errors.
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{Type: ErrorTypeNotFound, OriginalErr: err, Message: "record not found"}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		classified := &DatabaseError{
			Type:         ErrorTypeUnknown,
			OriginalErr:  err,
			MySQLErrCode: mysqlErr.Number,
			Message:      "MySQL error",
		}
		if known, ok := mysqlCodes[mysqlErr.Number]; ok {
			classified.Type = known.typ
			classified.Message = known.msg
		}
		return classified
	}

	if isConnectionError(err.Error()) {
		return &DatabaseError{Type: ErrorTypeConnectionError, OriginalErr: err, Message: "database connection error"}
	}

	return &DatabaseError{Type: ErrorTypeUnknown, OriginalErr: err, Message: "unknown database error"}
}

func isConnectionError(errMsg string) bool {
	msg := strings.ToLower(errMsg)
	for _, keyword := range connectionKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

func hasType(err error, t DatabaseErrorType) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == t
}

// IsNotFoundError reports whether the error is a record not found error.
func IsNotFoundError(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsDuplicateKeyError reports whether the error is a duplicate key violation.
func IsDuplicateKeyError(err error) bool { return hasType(err, ErrorTypeDuplicateKey) }

// IsInvalidJSONError reports whether the error is an invalid JSON error.
func IsInvalidJSONError(err error) bool { return hasType(err, ErrorTypeInvalidJSON) }

// IsDeadlockError reports whether the error is a deadlock error.
func IsDeadlockError(err error) bool { return hasType(err, ErrorTypeDeadlock) }
