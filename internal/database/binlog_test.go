package database

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBinlogPosition_ColumnVariants(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		values  []driver.Value
		want    *BinlogPosition
	}{
		{
			name:    "five columns with gtid",
			columns: []string{"File", "Position", "Binlog_Do_DB", "Binlog_Ignore_DB", "Executed_Gtid_Set"},
			values:  []driver.Value{"mysql-bin.000012", "157", "", "", "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5"},
			want:    &BinlogPosition{File: "mysql-bin.000012", Position: 157, ExecutedGtidSet: "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5"},
		},
		{
			name:    "four columns",
			columns: []string{"File", "Position", "Binlog_Do_DB", "Binlog_Ignore_DB"},
			values:  []driver.Value{"mysql-bin.000003", "4", "", ""},
			want:    &BinlogPosition{File: "mysql-bin.000003", Position: 4},
		},
		{
			name:    "two columns",
			columns: []string{"File", "Position"},
			values:  []driver.Value{"bin.000001", "120"},
			want:    &BinlogPosition{File: "bin.000001", Position: 120},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery("SHOW MASTER STATUS").
				WillReturnRows(sqlmock.NewRows(tt.columns).AddRow(tt.values...))

			got, err := ReadBinlogPosition(context.Background(), db)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadBinlogPosition_FallbackAndDisabled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SHOW MASTER STATUS").WillReturnError(&mysql.MySQLError{Number: 1064, Message: "syntax"})
	mock.ExpectQuery("SHOW BINARY LOG STATUS").WillReturnRows(sqlmock.NewRows([]string{"File", "Position"}))

	got, err := ReadBinlogPosition(context.Background(), db)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListBinaryLogs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SHOW BINARY LOGS").WillReturnRows(
		sqlmock.NewRows([]string{"Log_name", "File_size", "Encrypted"}).
			AddRow("mysql-bin.000001", "1024", "No").
			AddRow("mysql-bin.000002", "157", "No"))

	logs, err := ListBinaryLogs(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, []BinaryLog{{Name: "mysql-bin.000001", Size: 1024}, {Name: "mysql-bin.000002", Size: 157}}, logs)

	mock.ExpectQuery("SHOW BINARY LOGS").WillReturnError(&mysql.MySQLError{Number: 1381, Message: "You are not using binary logging"})
	logs, err = ListBinaryLogs(context.Background(), db)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
