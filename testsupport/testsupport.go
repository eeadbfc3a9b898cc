// Package testsupport holds fixtures shared by package tests.
package testsupport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"DubbingPlatform-server/config"
	"DubbingPlatform-server/models"

	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// OpenDB returns a migrated in-memory sqlite database private to t.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := models.OpenDB(config.Database{Driver: "sqlite", DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Clock is a manual clock. Every Now call advances it by Step so that
// records written in sequence have strictly ordered timestamps.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), Step: time.Second}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.Step)
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Config returns defaults tuned for tests: sqlite, local storage, one
// worker per job.
func Config(t testing.TB) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalDir = t.TempDir()
	cfg.Ethics.SigningKey = "test-signing-key"
	cfg.Pipeline.PerJobConcurrency = 2
	cfg.Pipeline.MaxConcurrentCalls = 4
	return cfg
}
