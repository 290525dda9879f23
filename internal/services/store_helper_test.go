package services_test

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/justsurfingit/inbox-job-tracker/internal/database"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// newTestDB opens a private in-memory SQLite database with the schema applied.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	db, err := database.Connect("sqlite", dsn)
	if err != nil {
		t.Fatalf("database.Connect: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
