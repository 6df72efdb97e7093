package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config configures the audit database.
type Config struct {
	Driver          string        // "sqlite" (default) or "postgres".
	Path            string        // SQLite file path.
	DSN             string        // PostgreSQL DSN.
	MaxOpenConns    int           // Postgres only. Default: 5
	ConnMaxLifetime time.Duration // Postgres only. Default: 30m
}

// DB wraps the GORM connection with health check and lifecycle methods.
type DB struct {
	gormDB *gorm.DB
	driver string
	logger *slog.Logger
}

// Open connects to the configured driver and runs AutoMigrate.
func Open(cfg Config, slogger *slog.Logger) (*DB, error) {
	if slogger == nil {
		slogger = slog.Default()
	}
	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gormCfg := &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(cfg, gormCfg, slogger)
	case DriverPostgres:
		db, err = openPostgres(cfg, gormCfg, slogger)
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&eventModel{}); err != nil {
		return nil, fmt.Errorf("auto-migrating audit tables: %w", err)
	}
	return &DB{gormDB: db, driver: driver, logger: slogger}, nil
}

func openSQLite(cfg Config, gormCfg *gorm.Config, slogger *slog.Logger) (*gorm.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// Single writer; WAL handles concurrent readers.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	slogger.Info("audit store opened", slog.String("driver", DriverSQLite), slog.String("path", cfg.Path))
	return db, nil
}

func openPostgres(cfg Config, gormCfg *gorm.Config, slogger *slog.Logger) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	// Parse up front so a malformed DSN fails before dialing and so the
	// log line can name the target without the password.
	pc, err := pgconn.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}

	gormCfg.PrepareStmt = true
	db, err := gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxLifetime(lifetime)

	slogger.Info("audit store opened",
		slog.String("driver", DriverPostgres),
		slog.String("host", pc.Host),
		slog.Int("port", int(pc.Port)),
		slog.String("database", pc.Database),
		slog.String("user", pc.User),
	)
	return db, nil
}

// Driver returns "sqlite" or "postgres".
func (d *DB) Driver() string { return d.driver }

// Repository returns an event repository over this connection.
func (d *DB) Repository() *Repository { return NewRepository(d.gormDB) }

// Ping checks the database connection for readiness probes.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection.
func (d *DB) Close() error {
	sqlDB, err := d.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
