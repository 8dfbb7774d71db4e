// Package database opens the relational store that holds the training table
// and runs the feature ETL scripts against it.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config describes how to reach the database.
type Config struct {
	Driver   string `yaml:"driver"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslMode"`

	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// Supported reports whether driver is one this package can open.
func Supported(driver string) bool {
	return driver == DriverMySQL || driver == DriverPostgres
}

// DSN builds the driver-specific connection string.
func (c Config) DSN() (string, error) {
	switch c.Driver {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, c.Port)
		mc.DBName = c.Name
		mc.ParseTime = true
		mc.MultiStatements = true
		return mc.FormatDSN(), nil
	case DriverPostgres:
		parts := []string{
			"host=" + quote(c.Host),
			"port=" + quote(c.Port),
			"user=" + quote(c.User),
			"dbname=" + quote(c.Name),
		}
		if c.Password != "" {
			parts = append(parts, "password="+quote(c.Password))
		}
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		parts = append(parts, "sslmode="+quote(sslMode))
		return strings.Join(parts, " "), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Open connects and pings with a bounded timeout.
func Open(ctx context.Context, c Config) (*sql.DB, error) {
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(c.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Driver, err)
	}

	maxOpen := c.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 5
	}
	maxIdle := c.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2
	}
	lifetime := c.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s at %s: %w", c.Driver, net.JoinHostPort(c.Host, c.Port), err)
	}

	log.Info().
		Str("driver", c.Driver).
		Str("host", c.Host).
		Str("database", c.Name).
		Msg("database connected")

	return db, nil
}
