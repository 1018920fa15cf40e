package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"mysql-backup-coordinator/internal/errors"
)

// Role names used by the replication path
const (
	RoleSource  = "source"
	RoleReplica = "replica"
)

// Connector opens connections; implemented by Service
type Connector interface {
	Connect(ctx context.Context, config ConnectionConfig) (*sql.DB, error)
	Close(db *sql.DB) error
}

// Notifier receives progress messages from the connection manager
type Notifier interface {
	Info(message string)
	Success(message string)
	Error(message string)
}

// ConnectionManager keeps one connection per named role and closes them together
type ConnectionManager struct {
	mu       sync.Mutex
	service  Connector
	conns    map[string]*sql.DB
	notifier Notifier
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(service Connector) *ConnectionManager {
	return &ConnectionManager{
		service: service,
		conns:   make(map[string]*sql.DB),
	}
}

// SetNotifier sets the progress sink
func (cm *ConnectionManager) SetNotifier(n Notifier) {
	cm.notifier = n
}

// Connect opens the connection for role, replacing any previous one
func (cm *ConnectionManager) Connect(ctx context.Context, role string, config ConnectionConfig) (*sql.DB, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if old, ok := cm.conns[role]; ok {
		cm.service.Close(old)
		delete(cm.conns, role)
	}

	cm.info(fmt.Sprintf("Connecting to %s at %s...", role, config.Address()))

	db, err := cm.service.Connect(ctx, config)
	if err != nil {
		if cm.notifier != nil {
			cm.notifier.Error(fmt.Sprintf("Failed to connect to %s: %v", role, err))
		}
		return nil, errors.WrapError(err, fmt.Sprintf("failed to connect to %s", role))
	}

	cm.conns[role] = db
	if cm.notifier != nil {
		cm.notifier.Success(fmt.Sprintf("%s connection established", role))
	}
	return db, nil
}

// Get returns the connection for role
func (cm *ConnectionManager) Get(role string) (*sql.DB, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	db, ok := cm.conns[role]
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("%s connection is not established", role), nil)
	}
	return db, nil
}

// Roles returns the names of the open connections in sorted order
func (cm *ConnectionManager) Roles() []string {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	roles := make([]string, 0, len(cm.conns))
	for r := range cm.conns {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// Close gracefully closes all database connections
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errs []error
	for role, db := range cm.conns {
		if err := cm.service.Close(db); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", role, err))
		}
		delete(cm.conns, role)
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to close connections: %v", errs)
	}
	return nil
}

func (cm *ConnectionManager) info(msg string) {
	if cm.notifier != nil {
		cm.notifier.Info(msg)
	}
}
