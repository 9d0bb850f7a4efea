package database

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/soundmesh-core/migrations"
)

// tableExists reports whether a table is present in the schema.
func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate_SpeakerEventsSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.Files); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if !tableExists(t, db, "speaker_events") {
		t.Fatal("speaker_events table missing after migration")
	}

	// The shipped schema must accept a history row as the repository
	// writes it.
	_, err := db.ExecContext(ctx,
		"INSERT INTO speaker_events (speaker_id, event_type, detail) VALUES (?, ?, ?)",
		"living-room", "connected", "attempt=0",
	)
	if err != nil {
		t.Errorf("inserting event row: %v", err)
	}

	var indexes int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND tbl_name = 'speaker_events' AND name LIKE 'idx_%'",
	).Scan(&indexes)
	if err != nil {
		t.Fatalf("querying indexes: %v", err)
	}
	if indexes != 2 {
		t.Errorf("speaker_events indexes = %d, want 2", indexes)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.Files); err != nil {
		t.Fatalf("first Migrate() error = %v", err)
	}
	if err := db.Migrate(ctx, migrations.Files); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.Files)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("applied migrations = %d, want 1", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("pending migrations = %d, want 0", len(pending))
	}
	if len(applied) == 1 && applied[0].AppliedAt.IsZero() {
		t.Error("applied_at timestamp not recorded")
	}
}

func TestMigrateDown_DropsSpeakerEvents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.Files); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, migrations.Files); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "speaker_events") {
		t.Error("speaker_events still present after rollback")
	}

	applied, _, err := db.MigrationStatus(ctx, migrations.Files)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied migrations after rollback = %d, want 0", len(applied))
	}
}

func TestMigrateDown_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)

	// ensureVersionTable has not run; rollback must still be a no-op.
	if err := db.Migrate(context.Background(), nil); err != nil {
		t.Fatalf("Migrate(nil source) error = %v", err)
	}
	if err := db.MigrateDown(context.Background(), migrations.Files); err != nil {
		t.Fatalf("MigrateDown() on empty database error = %v", err)
	}
}

func TestMigrate_AppliesInVersionOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Listed out of order on purpose; version prefixes decide.
	source := fstest.MapFS{
		"20260802_090000_add_source.up.sql": &fstest.MapFile{
			Data: []byte("ALTER TABLE probe_log ADD COLUMN source TEXT"),
		},
		"20260801_090000_probe_log.up.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE probe_log (id INTEGER PRIMARY KEY, speaker_id TEXT NOT NULL)"),
		},
	}

	if err := db.Migrate(ctx, source); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	applied, _, err := db.MigrationStatus(ctx, source)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("applied migrations = %d, want 2", len(applied))
	}
	if applied[0].Version != "20260801_090000" || applied[1].Version != "20260802_090000" {
		t.Errorf("applied order = [%s, %s], want oldest first",
			applied[0].Version, applied[1].Version)
	}
}

func TestMigrate_FailureRollsBackAndStops(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	source := fstest.MapFS{
		"20260801_090000_probe_log.up.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE probe_log (id INTEGER PRIMARY KEY)"),
		},
		"20260802_090000_broken.up.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE syntax error ("),
		},
		"20260803_090000_never_reached.up.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE never_reached (id INTEGER PRIMARY KEY)"),
		},
	}

	err := db.Migrate(ctx, source)
	if err == nil {
		t.Fatal("Migrate() with broken SQL returned nil")
	}
	if !strings.Contains(err.Error(), "20260802_090000") {
		t.Errorf("error %q does not name the failing version", err)
	}

	// Earlier migration stays committed, later one never runs, the
	// broken one leaves no bookkeeping row.
	if !tableExists(t, db, "probe_log") {
		t.Error("migration before the failure was not committed")
	}
	if tableExists(t, db, "never_reached") {
		t.Error("migration after the failure was applied")
	}
	applied, _, statusErr := db.MigrationStatus(ctx, source)
	if statusErr != nil {
		t.Fatalf("MigrationStatus() error = %v", statusErr)
	}
	if len(applied) != 1 {
		t.Errorf("applied migrations = %d, want 1", len(applied))
	}
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260801_120000_speaker_events.up.sql", "20260801_120000", "speaker_events", true, true},
		{"20260801_120000_speaker_events.down.sql", "20260801_120000", "speaker_events", false, true},
		{"20260802_090000_add_retention_policy.up.sql", "20260802_090000", "add_retention_policy", true, true},
		{"README.md", "", "", false, false},
		{"notes.sql", "", "", false, false},
		{"20260801.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		version, name, up, ok := parseFilename(tt.filename)
		if ok != tt.wantOK {
			t.Errorf("parseFilename(%q) ok = %v, want %v", tt.filename, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
			t.Errorf("parseFilename(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.filename, version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
		}
	}
}
