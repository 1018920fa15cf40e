package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/logging"
)

func validConfig() ConnectionConfig {
	return ConnectionConfig{Host: "db1", Port: 3306, Username: "root", Timeout: time.Second}
}

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewServiceWithOptions(logging.NewNopLogger(), 5*time.Second, errors.RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Multiplier:  1,
	})
	s.open = func(string) (*sql.DB, error) { return db, nil }
	return s, mock
}

func TestNewService(t *testing.T) {
	s := NewService(nil)
	require.NotNil(t, s)
	assert.Equal(t, 30*time.Second, s.connectionTimeout)
	assert.NotNil(t, s.logger)
}

func TestConnect_InvalidConfig(t *testing.T) {
	s := NewService(nil)

	_, err := s.Connect(context.Background(), ConnectionConfig{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetErrorType(err))
}

func TestProbe_Success(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT VERSION\\(\\)").
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))

	res, err := s.Probe(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Equal(t, "8.0.36", res.Version)
	assert.Equal(t, "db1:3306", res.Address)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProbe_AccessDenied(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectPing().WillReturnError(&mysql.MySQLError{Number: 1045, Message: "Access denied"})

	_, err := s.Probe(context.Background(), validConfig())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConnectivity, errors.GetErrorType(err))
	assert.False(t, errors.IsRecoverableError(err))
}

func TestProbe_UnreachableIsRetried(t *testing.T) {
	s, _ := newMockService(t)

	attempts := 0
	s.open = func(string) (*sql.DB, error) {
		attempts++
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		mock.ExpectPing().WillReturnError(&mysql.MySQLError{Number: 2003, Message: "Can't connect"})
		return db, nil
	}

	_, err := s.Probe(context.Background(), validConfig())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectivity))
	assert.Equal(t, 2, attempts)
}

func TestSchemaOperations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewService(nil)
	ctx := context.Background()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM information_schema.SCHEMATA").
		WithArgs("mydb").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM information_schema.TABLES").
		WithArgs("mydb").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec("DROP DATABASE IF EXISTS `mydb`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE DATABASE IF NOT EXISTS `mydb`").WillReturnResult(sqlmock.NewResult(0, 1))

	exists, err := s.SchemaExists(ctx, db, "mydb")
	require.NoError(t, err)
	assert.True(t, exists)
	tables, err := s.TableCount(ctx, db, "mydb")
	require.NoError(t, err)
	assert.Equal(t, 3, tables)
	require.NoError(t, s.DropSchema(ctx, db, "mydb"))
	require.NoError(t, s.CreateSchema(ctx, db, "mydb"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropSchema_EmptyName(t *testing.T) {
	s := NewService(nil)
	err := s.DropSchema(context.Background(), nil, "")
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetErrorType(err))
}

func TestNilDB(t *testing.T) {
	s := NewService(nil)

	assert.NoError(t, s.Close(nil))
	assert.Error(t, s.Ping(context.Background(), nil))
	_, err := s.Version(context.Background(), nil)
	assert.Error(t, err)
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, "`my``db`", QuoteIdentifier("my`db"))
	assert.Equal(t, `'it\'s'`, QuoteString("it's"))
	assert.Equal(t, `'a\\b'`, QuoteString(`a\b`))
}
