package errors

import (
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyDBError_RecordNotFound(t *testing.T) {
	dbErr := ClassifyDBError(gorm.ErrRecordNotFound)

	assert.NotNil(t, dbErr)
	assert.Equal(t, ErrorTypeNotFound, dbErr.Type)
	assert.Equal(t, "record not found", dbErr.Message)
	assert.True(t, errors.Is(dbErr, gorm.ErrRecordNotFound))
}

func TestClassifyDBError_MySQLCodes(t *testing.T) {
	tests := []struct {
		name    string
		errCode uint16
		want    DatabaseErrorType
	}{
		{"duplicate entry (1062)", 1062, ErrorTypeDuplicateKey},
		{"invalid JSON text (3140)", 3140, ErrorTypeInvalidJSON},
		{"invalid JSON path (3141)", 3141, ErrorTypeInvalidJSON},
		{"JSON document too large (3142)", 3142, ErrorTypeInvalidJSON},
		{"data too long (1406)", 1406, ErrorTypeDataTooLong},
		{"deadlock (1213)", 1213, ErrorTypeDeadlock},
		{"unmapped code (1045)", 1045, ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mysqlErr := &mysql.MySQLError{Number: tt.errCode, Message: "boom"}
			dbErr := ClassifyDBError(mysqlErr)

			assert.NotNil(t, dbErr)
			assert.Equal(t, tt.want, dbErr.Type)
			assert.Equal(t, tt.errCode, dbErr.MySQLErrCode)
		})
	}
}

func TestClassifyDBError_ConnectionError(t *testing.T) {
	for _, msg := range []string{
		"dial tcp: connection refused",
		"read tcp: connection reset by peer",
		"write tcp: broken pipe",
		"i/o timeout",
		"dial tcp: lookup mysql.example.com: no such host",
	} {
		t.Run(msg, func(t *testing.T) {
			dbErr := ClassifyDBError(errors.New(msg))
			assert.Equal(t, ErrorTypeConnectionError, dbErr.Type)
		})
	}
}

func TestClassifyDBError_Unknown(t *testing.T) {
	dbErr := ClassifyDBError(errors.New("some random error"))
	assert.Equal(t, ErrorTypeUnknown, dbErr.Type)
}

func TestClassifyDBError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyDBError(nil))
}

func TestDatabaseError_Error(t *testing.T) {
	withCode := &DatabaseError{
		Type:         ErrorTypeDuplicateKey,
		OriginalErr:  errors.New("original error"),
		MySQLErrCode: 1062,
		Message:      "duplicate key",
	}
	assert.Contains(t, withCode.Error(), "MySQL error 1062")

	withoutCode := &DatabaseError{
		Type:        ErrorTypeNotFound,
		OriginalErr: gorm.ErrRecordNotFound,
		Message:     "record not found",
	}
	assert.NotContains(t, withoutCode.Error(), "MySQL error")
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFoundError(gorm.ErrRecordNotFound))
	assert.True(t, IsDuplicateKeyError(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsInvalidJSONError(&mysql.MySQLError{Number: 3140}))
	assert.True(t, IsDeadlockError(&mysql.MySQLError{Number: 1213}))

	other := errors.New("other error")
	assert.False(t, IsNotFoundError(other))
	assert.False(t, IsDuplicateKeyError(other))
	assert.False(t, IsNotFoundError(nil))
}
