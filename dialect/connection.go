package dialect

import (
	"strings"
	"time"
)

// Connection holds the raw connection configuration of a database.
// Dialect.Configure completes it before the pool is opened.
type Connection struct {
	// Client is the backend identifier, e.g. "sqlite", "pg" or "mariadb".
	Client string `mapstructure:"client" yaml:"client"`
	// Driver optionally forces the database/sql driver name.
	Driver string `mapstructure:"driver" yaml:"driver,omitempty"`
	// DSN is used as is when set; otherwise it is built from the fields below.
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty"`

	Filename string `mapstructure:"filename" yaml:"filename,omitempty"`
	Host     string `mapstructure:"host" yaml:"host,omitempty"`
	Port     int    `mapstructure:"port" yaml:"port,omitempty"`
	Database string `mapstructure:"database" yaml:"database,omitempty"`
	User     string `mapstructure:"user" yaml:"user,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	// Schema is the Postgres schema added to the search path of every connection.
	Schema  string `mapstructure:"schema" yaml:"schema,omitempty"`
	SSLMode string `mapstructure:"ssl_mode" yaml:"ssl_mode,omitempty"`
	// Options are extra backend specific DSN parameters.
	Options map[string]string `mapstructure:"options" yaml:"options,omitempty"`

	Pool Pool `mapstructure:"pool" yaml:"pool,omitempty"`
}

// Pool configures the connection pool.
type Pool struct {
	Min         int           `mapstructure:"min" yaml:"min,omitempty"`
	Max         int           `mapstructure:"max" yaml:"max,omitempty"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout,omitempty"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime" yaml:"max_lifetime,omitempty"`
}

// InMemory reports if the connection targets an in-memory SQLite database.
func (c *Connection) InMemory() bool {
	f := c.Filename
	if f == "" {
		f = c.DSN
	}
	return f == ":memory:" || strings.HasPrefix(f, "file::memory:") || strings.Contains(f, "mode=memory")
}
