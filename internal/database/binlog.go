package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"mysql-backup-coordinator/internal/errors"
)

// BinlogPosition is the source's current binary log coordinate
type BinlogPosition struct {
	File            string `json:"file"`
	Position        uint64 `json:"position"`
	ExecutedGtidSet string `json:"executed_gtid_set,omitempty"`
}

// BinaryLog is one entry of SHOW BINARY LOGS
type BinaryLog struct {
	Name string `json:"name"`
	Size int64  `json:"size_bytes"`
}

const (
	errNoBinaryLogging = 1381
	errParse           = 1064
)

// ReadBinlogPosition reads SHOW MASTER STATUS, falling back to SHOW BINARY
// LOG STATUS on servers that removed the former. Columns are matched by
// name so 2, 4 and 5 column variants all scan. It returns nil when binary
// logging is disabled.
func ReadBinlogPosition(ctx context.Context, db *sql.DB) (*BinlogPosition, error) {
	row, err := queryFirstRow(ctx, db, "SHOW MASTER STATUS")
	if isMySQLError(err, errParse) {
		row, err = queryFirstRow(ctx, db, "SHOW BINARY LOG STATUS")
	}
	if err != nil {
		return nil, errors.WrapError(err, "failed to read binary log position")
	}
	if row == nil || row["File"] == "" {
		return nil, nil
	}

	pos := &BinlogPosition{
		File:            row["File"],
		ExecutedGtidSet: strings.ReplaceAll(row["Executed_Gtid_Set"], "\n", ""),
	}
	if p := row["Position"]; p != "" {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, errors.NewExecutionError("unexpected binary log position "+p, err)
		}
		pos.Position = n
	}
	return pos, nil
}

// ListBinaryLogs returns the server's binary logs in the order the server
// reports them. Servers without binary logging return an empty list.
func ListBinaryLogs(ctx context.Context, db *sql.DB) ([]BinaryLog, error) {
	rows, err := queryRows(ctx, db, "SHOW BINARY LOGS")
	if isMySQLError(err, errNoBinaryLogging) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapError(err, "failed to list binary logs")
	}

	logs := make([]BinaryLog, 0, len(rows))
	for _, r := range rows {
		size, _ := strconv.ParseInt(r["File_size"], 10, 64)
		logs = append(logs, BinaryLog{Name: r["Log_name"], Size: size})
	}
	return logs, nil
}

// FlushBinaryLogs closes the active binary log and opens a new one
func FlushBinaryLogs(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "FLUSH BINARY LOGS"); err != nil {
		return errors.WrapError(err, "failed to rotate binary logs")
	}
	return nil
}

// QueryNamedRows runs query and returns every row keyed by column name
func QueryNamedRows(ctx context.Context, db *sql.DB, query string) ([]map[string]string, error) {
	return queryRows(ctx, db, query)
}

func queryFirstRow(ctx context.Context, db *sql.DB, query string) (map[string]string, error) {
	rows, err := queryRows(ctx, db, query)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func queryRows(ctx context.Context, db *sql.DB, query string) ([]map[string]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]string
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		m := make(map[string]string, len(cols))
		for i, c := range cols {
			m[c] = values[i].String
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func isMySQLError(err error, number uint16) bool {
	var mysqlErr *mysql.MySQLError
	return stderrors.As(err, &mysqlErr) && mysqlErr.Number == number
}
