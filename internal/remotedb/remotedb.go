// Package remotedb opens connection pools against an instance's engine
// database and reads its execution tables.
package remotedb

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database types, matching the engine's own DB_TYPE values.
const (
	TypePostgres = "postgresdb"
	TypeMySQL    = "mysqldb"
)

// Params identifies a remote database. Host and port in Params are the
// endpoint as seen from the SSH host; Open receives the local forwarder
// address separately.
type Params struct {
	Type     string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// PoolOptions bounds a pool opened by Open.
type PoolOptions struct {
	MaxOpen        int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
}

// DSN builds the driver connection string for p, pointed at host:port.
func DSN(p Params, host string, port int, connectTimeout time.Duration) (string, error) {
	switch p.Type {
	case TypePostgres, "":
		parts := []string{
			"host=" + pgValue(host),
			"port=" + strconv.Itoa(port),
			"user=" + pgValue(p.User),
			"password=" + pgValue(p.Password),
			"dbname=" + pgValue(p.Name),
			"sslmode=disable",
		}
		if connectTimeout > 0 {
			secs := int(math.Ceil(connectTimeout.Seconds()))
			parts = append(parts, "connect_timeout="+strconv.Itoa(secs))
		}
		return strings.Join(parts, " "), nil
	case TypeMySQL:
		cfg := gomysql.NewConfig()
		cfg.User = p.User
		cfg.Passwd = p.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
		cfg.DBName = p.Name
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		cfg.Timeout = connectTimeout
		return cfg.FormatDSN(), nil
	default:
		return "", fmt.Errorf("unsupported database type %q", p.Type)
	}
}

// pgValue quotes a key/value DSN value.
func pgValue(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// Open returns a lazily connecting pool for p through host:port. No
// connection is made until the first query.
func Open(p Params, host string, port int, opts PoolOptions) (*gorm.DB, error) {
	dsn, err := DSN(p, host, port, opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	if p.Type == TypeMySQL {
		dialector = mysql.New(mysql.Config{DSN: dsn, SkipInitializeWithVersion: true})
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s pool: %w", p.Type, err)
	}
	if err := Configure(db, opts); err != nil {
		return nil, err
	}
	return db, nil
}

// Configure applies pool bounds to db.
func Configure(db *gorm.DB, opts PoolOptions) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if opts.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpen)
		sqlDB.SetMaxIdleConns(opts.MaxOpen)
	}
	if opts.IdleTimeout > 0 {
		sqlDB.SetConnMaxIdleTime(opts.IdleTimeout)
	}
	return nil
}

// Close releases every connection of the pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping runs a trivial liveness query.
func Ping(ctx context.Context, db *gorm.DB) error {
	var one int
	if err := db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return fmt.Errorf("liveness query: %w", err)
	}
	return nil
}
