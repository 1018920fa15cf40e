package replication

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"mysql-backup-coordinator/internal/database"
	"mysql-backup-coordinator/internal/errors"
)

// ReplicaStatus is one reading of SHOW REPLICA STATUS (or its legacy name)
type ReplicaStatus struct {
	Configured       bool   `json:"configured"`
	IOState          string `json:"io_running"`
	SQLState         string `json:"sql_running"`
	LagSeconds       *int64 `json:"seconds_behind_source"`
	LastIOError      string `json:"last_io_error,omitempty"`
	LastSQLError     string `json:"last_sql_error,omitempty"`
	SourceHost       string `json:"source_host,omitempty"`
	SourcePort       int    `json:"source_port,omitempty"`
	SourceUser       string `json:"source_user,omitempty"`
	AutoPosition     bool   `json:"auto_position"`
	RetrievedGtidSet string `json:"retrieved_gtid_set,omitempty"`
	ExecutedGtidSet  string `json:"executed_gtid_set,omitempty"`
}

// IORunning reports whether the receiver thread is streaming
func (s *ReplicaStatus) IORunning() bool { return strings.EqualFold(s.IOState, "Yes") }

// SQLRunning reports whether the applier thread is running
func (s *ReplicaStatus) SQLRunning() bool { return strings.EqualFold(s.SQLState, "Yes") }

// Running is true only when both threads run
func (s *ReplicaStatus) Running() bool { return s.IORunning() && s.SQLRunning() }

// LastError returns the IO error, else the SQL error
func (s *ReplicaStatus) LastError() string {
	if s.LastIOError != "" {
		return s.LastIOError
	}
	return s.LastSQLError
}

// column returns the first non-empty value among the modern and legacy
// column names.
func column(row map[string]string, names ...string) string {
	for _, n := range names {
		if v, ok := row[n]; ok && v != "" {
			return v
		}
	}
	return ""
}

func parseStatus(row map[string]string) *ReplicaStatus {
	st := &ReplicaStatus{
		Configured:       true,
		IOState:          column(row, "Replica_IO_Running", "Slave_IO_Running"),
		SQLState:         column(row, "Replica_SQL_Running", "Slave_SQL_Running"),
		LastIOError:      column(row, "Last_IO_Error"),
		LastSQLError:     column(row, "Last_SQL_Error"),
		SourceHost:       column(row, "Source_Host", "Master_Host"),
		SourceUser:       column(row, "Source_User", "Master_User"),
		AutoPosition:     column(row, "Auto_Position") == "1",
		RetrievedGtidSet: strings.ReplaceAll(column(row, "Retrieved_Gtid_Set"), "\n", ""),
		ExecutedGtidSet:  strings.ReplaceAll(column(row, "Executed_Gtid_Set"), "\n", ""),
	}
	if p, err := strconv.Atoi(column(row, "Source_Port", "Master_Port")); err == nil {
		st.SourcePort = p
	}
	// NULL while the SQL thread is stopped
	if lag := column(row, "Seconds_Behind_Source", "Seconds_Behind_Master"); lag != "" {
		if n, err := strconv.ParseInt(lag, 10, 64); err == nil {
			st.LagSeconds = &n
		}
	}
	return st
}

func (b *Bootstrapper) status(ctx context.Context, db *sql.DB, d dialect) (*ReplicaStatus, error) {
	rows, err := database.QueryNamedRows(ctx, db, d.status)
	if err != nil {
		return nil, errors.WrapError(err, "failed to read replica status")
	}
	if len(rows) == 0 {
		return &ReplicaStatus{}, nil
	}
	return parseStatus(rows[0]), nil
}

// Status reads the replica status once
func (b *Bootstrapper) Status(ctx context.Context, db *sql.DB) (*ReplicaStatus, error) {
	d, _, err := b.dialect(ctx, db)
	if err != nil {
		return nil, err
	}
	return b.status(ctx, db, d)
}

// Discover rebuilds the topology of an already configured replica from a
// status reading.
func (b *Bootstrapper) Discover(ctx context.Context, db *sql.DB) (*Topology, *ReplicaStatus, error) {
	st, err := b.Status(ctx, db)
	if err != nil {
		return nil, nil, err
	}

	topo := NewTopology(Endpoint{Host: st.SourceHost, Port: st.SourcePort}, Principal{User: st.SourceUser})
	if !st.Configured {
		return topo, st, nil
	}
	if err := topo.Transition(StateStarting); err != nil {
		return nil, nil, err
	}
	if err := topo.Observe(st); err != nil {
		return nil, nil, err
	}
	b.record(topo, st)
	return topo, st, nil
}

func (b *Bootstrapper) record(topo *Topology, st *ReplicaStatus) {
	b.metrics.SetReplication(st.IORunning(), st.SQLRunning(), st.LagSeconds)
	b.logger.LogReplicationStatus(string(topo.State()), st.IORunning(), st.SQLRunning(), st.LagSeconds)
}
