package database

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ConnectionConfig holds the parameters for connecting to a MySQL server
type ConnectionConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"-"`
	Socket   string        `mapstructure:"socket" yaml:"socket,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Validate checks if the connection configuration has all required parameters
func (c *ConnectionConfig) Validate() error {
	var errs []error

	if c.Host == "" && c.Socket == "" {
		errs = append(errs, errors.New("host or socket is required"))
	}

	if c.Socket == "" && (c.Port <= 0 || c.Port > 65535) {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}

	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}

	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// SetDefaults fills in the port and timeout when unset
func (c *ConnectionConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Address returns host:port
func (c *ConnectionConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DSN returns the Data Source Name for the go-sql-driver/mysql driver. No
// default schema is selected; every statement issued by this tool is either
// server-scoped or fully qualified.
func (c *ConnectionConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	if c.Socket != "" {
		cfg.Net = "unix"
		cfg.Addr = c.Socket
	} else {
		cfg.Net = "tcp"
		cfg.Addr = c.Address()
	}
	cfg.Timeout = c.Timeout
	cfg.ParseTime = true
	cfg.MultiStatements = false
	return cfg.FormatDSN()
}
