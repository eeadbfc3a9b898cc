package models

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"DubbingPlatform-server/config"
	"DubbingPlatform-server/logging"

	"github.com/glebarez/sqlite"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// slogWriter feeds GORM's log lines into the application logger.
type slogWriter struct {
	l *slog.Logger
}

func (w slogWriter) Printf(format string, args ...interface{}) {
	w.l.Warn(fmt.Sprintf(format, args...), logging.FieldComponent, "gorm")
}

// NewGormLogger reports slow queries and SQL errors through log. Lookups
// that find no row are expected and stay silent.
func NewGormLogger(log *slog.Logger) logger.Interface {
	if log == nil {
		return logger.Discard
	}
	return logger.New(slogWriter{l: log}, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// OpenDB opens the configured database and wraps it in GORM. A nil log
// discards GORM output.
func OpenDB(cfg config.Database, log *slog.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: NewGormLogger(log)}

	if cfg.Driver == "sqlite" {
		db, err := gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite serialises writers; one connection avoids SQLITE_BUSY under fan-out.
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}

	driverName := cfg.Driver
	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driverName, err)
	}

	var dialector gorm.Dialector
	switch driverName {
	case "mysql":
		dialector = mysql.New(mysql.Config{Conn: sqlDB})
	case "postgres":
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	default:
		sqlDB.Close()
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}
	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("gorm init: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Project{},
		&Job{},
		&ConsentRecord{},
		&WatermarkRecord{},
		&ProvenanceRecord{},
	)
}
