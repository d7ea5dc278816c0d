package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"sql-assistant/internal/common/config"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLClient is the pooled connection the executor and the schema
// introspector share.
type SQLClient struct {
	DB     *sql.DB
	driver string
}

// driverNames maps config drivers to database/sql registrations.
var driverNames = map[string]string{
	"postgres": "postgres",
	"mysql":    "mysql",
	"sqlite":   "sqlite",
}

func NewSQL(cfg config.DatabaseConfig) (*SQLClient, error) {
	driverName, ok := driverNames[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}

	maxOpen := cfg.MaxConnections
	if cfg.Driver == "sqlite" {
		// one writer at a time
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(config.Millis(cfg.ConnMaxLifetime))
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &SQLClient{DB: db, driver: cfg.Driver}, nil
}

// NewSQLFromDB wraps an already opened pool, such as a sqlmock connection.
func NewSQLFromDB(db *sql.DB, driver string) *SQLClient {
	return &SQLClient{DB: db, driver: driver}
}

// BuildDSN returns cfg.DSN when set, otherwise a driver specific DSN built
// from the discrete fields.
func BuildDSN(cfg config.DatabaseConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	switch cfg.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
		), nil
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.Name
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	case "sqlite":
		if cfg.Path == "" {
			return "", fmt.Errorf("sqlite requires database.path")
		}
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", cfg.Path), nil
	}
	return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// Driver is the configured driver name (postgres, mysql, sqlite).
func (c *SQLClient) Driver() string {
	return c.driver
}

// Dialect is the human readable SQL dialect shown to the model.
func (c *SQLClient) Dialect() string {
	return DialectName(c.driver)
}

func DialectName(driver string) string {
	switch driver {
	case "postgres":
		return "PostgreSQL"
	case "mysql":
		return "MySQL"
	case "sqlite":
		return "SQLite"
	}
	return driver
}

func (c *SQLClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *SQLClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

func (c *SQLClient) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.DB.QueryContext(ctx, query, args...)
}

func (c *SQLClient) GetDB() *sql.DB {
	return c.DB
}
