// Package dbtest opens a migrated database for package tests.
package dbtest

import (
	"os"
	"testing"

	"hostinv/internal/db"
	"hostinv/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Open returns a fresh migrated database. TEST_DB_DRIVER and TEST_DB_DSN point
// it at an external mysql/postgres; otherwise every call gets its own
// in-memory sqlite. External databases are wiped first, so such tests must not
// run in parallel (go test -p 1).
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	driver, dsn := os.Getenv("TEST_DB_DRIVER"), os.Getenv("TEST_DB_DSN")
	external := driver != "" && dsn != ""
	if !external {
		driver = "sqlite"
		dsn = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	}
	d, err := db.Open(driver, dsn, db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(d) })
	if external {
		// общая база: начинаем с пустой схемы
		tables := append([]any{"host_groups", "ansible_group_tag_links"}, models.All()...)
		require.NoError(t, d.Migrator().DropTable(tables...))
	}
	require.NoError(t, db.Migrate(d))
	return d
}
