package fated

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	tmpdir := t.TempDir()
	dbPath := filepath.Join(tmpdir, "test.sqlite3")
	db, err := CreateDB(
		context.Background(),
		"sqlite",
		dbPath,
	)
	if err != nil {
		t.Fatalf("error creating test database: %v", err)
	}
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

// newTestDBI wraps a fresh migrated sqlite database in the DBI
// interface used by the store helpers.
func newTestDBI(t testing.TB) DBI {
	t.Helper()
	return NewDatabase(setupTestDB(t), nil, false)
}

func TestCreateDBInvalidType(t *testing.T) {
	t.Parallel()
	_, err := CreateDB(context.Background(), "mongodb", "test.sqlite3")
	require.Error(t, err)
}

func TestDatabaseCreateAndUpdate(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	note := Note{Name: "greeting", Content: "hello", AuthorID: "user-1"}
	affected, err := db.Create(ctx, &note)
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	affected, err = db.Update(ctx, &note, columnNoteContent, "goodbye")
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	got, err := getNote(ctx, db, "greeting")
	require.NoError(t, err)
	require.Equal(t, "goodbye", got.Content)
}
