package database

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"
)

func withMigrations(t *testing.T, fsys fs.FS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	MigrationsFS, MigrationsDir = fsys, "."
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"20260301_090000_sequences.up.sql": {Data: []byte(
			"CREATE TABLE sequences (id TEXT PRIMARY KEY, name TEXT NOT NULL);")},
		"20260301_090000_sequences.down.sql": {Data: []byte("DROP TABLE sequences;")},
		"20260302_090000_execution_logs.up.sql": {Data: []byte(
			"CREATE TABLE execution_logs (id INTEGER PRIMARY KEY, message TEXT);\n" +
				"CREATE INDEX idx_logs_message ON execution_logs(message);")},
		"20260302_090000_execution_logs.down.sql": {Data: []byte("DROP TABLE execution_logs;")},
		"README.md": {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	withMigrations(t, testFS())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "sequences") || !tableExists(t, db, "execution_logs") {
		t.Fatal("migrated tables missing")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	withMigrations(t, testFS())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "execution_logs") {
		t.Error("latest migration was not rolled back")
	}
	if !tableExists(t, db, "sequences") {
		t.Error("earlier migration should remain applied")
	}
}

func TestMigrate_NoFS(t *testing.T) {
	withMigrations(t, nil)
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestMigrate_MissingUp(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20260301_090000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	})
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() expected error for down-only migration")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20260301_090000_sequences.up.sql", "20260301_090000", true, true},
		{"20260301_090000_sequences.down.sql", "20260301_090000", false, true},
		{"readme.txt", "", false, false},
		{"20260301_090000_sequences.sql", "", false, false},
		{"invalid.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && (version != tt.wantVersion || isUp != tt.wantIsUp) {
				t.Errorf("got (%q, %v), want (%q, %v)", version, isUp, tt.wantVersion, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	if got := extractMigrationName("20260301_090000_execution_logs.up.sql"); got != "execution_logs" {
		t.Errorf("extractMigrationName() = %q, want execution_logs", got)
	}
}
