package db

import (
	"context"
	"testing"
)

// outcomeColumns is the archive schema the scorer's warm-start and the
// history command depend on.
var outcomeColumns = []string{
	"id", "model", "task_type", "tier", "quality_score", "duration_ms",
	"tokens_used", "tests_passed", "user_accepted", "error_count",
	"refinement_rounds", "created_at",
}

func openMigrationTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func tableColumns(t *testing.T, database *DB, table string) map[string]bool {
	t.Helper()
	rows, err := database.QueryContext(context.Background(), "PRAGMA table_info("+table+")")
	if err != nil {
		t.Fatalf("table_info(%s) failed: %v", table, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			t.Fatalf("scan table_info row: %v", err)
		}
		columns[name] = true
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("table_info rows: %v", err)
	}
	return columns
}

func tableExists(t *testing.T, database *DB, table string) bool {
	t.Helper()
	var count int
	err := database.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	if err != nil {
		t.Fatalf("failed to check table %s: %v", table, err)
	}
	return count == 1
}

func TestMigrateUpBuildsOutcomeArchive(t *testing.T) {
	ctx := context.Background()
	database := openMigrationTestDB(t)

	applied, err := database.MigrateUp(ctx)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if applied == 0 {
		t.Fatal("expected at least one migration to be applied")
	}

	if !tableExists(t, database, "outcomes") {
		t.Fatal("outcomes table should exist after migrating up")
	}
	columns := tableColumns(t, database, "outcomes")
	for _, want := range outcomeColumns {
		if !columns[want] {
			t.Errorf("outcomes table missing column %s", want)
		}
	}
	if len(columns) != len(outcomeColumns) {
		t.Errorf("outcomes has %d columns, want %d: %v", len(columns), len(outcomeColumns), columns)
	}

	var indexes int
	err = database.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND tbl_name='outcomes' AND name LIKE 'idx_outcomes_%'").Scan(&indexes)
	if err != nil {
		t.Fatalf("failed to count outcome indexes: %v", err)
	}
	if indexes != 2 {
		t.Errorf("expected the model/task and created_at indexes, got %d", indexes)
	}

	// a second run has nothing left to do
	applied, err = database.MigrateUp(ctx)
	if err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("expected 0 migrations on second run, got %d", applied)
	}
}

func TestMigrateUpTracksSchemaVersion(t *testing.T) {
	ctx := context.Background()
	database := openMigrationTestDB(t)

	if _, err := database.MigrateUp(ctx); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations found")
	}
	latest := migrations[len(migrations)-1].Version

	version, err := database.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != latest {
		t.Errorf("schema version = %d, want %d", version, latest)
	}
}

func TestMigrateDownDropsOutcomeArchive(t *testing.T) {
	ctx := context.Background()
	database := openMigrationTestDB(t)

	if _, err := database.MigrateUp(ctx); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	rolledBack, err := database.MigrateDown(ctx, 1)
	if err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	if rolledBack != 1 {
		t.Errorf("expected 1 migration rolled back, got %d", rolledBack)
	}

	if tableExists(t, database, "outcomes") {
		t.Error("outcomes table should be gone after rolling back")
	}

	version, err := database.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	want := migrations[len(migrations)-1].Version - 1
	if want < 0 {
		want = 0
	}
	if version != want {
		t.Errorf("schema version = %d after rollback, want %d", version, want)
	}
}

func TestMigrationStatusFollowsApply(t *testing.T) {
	ctx := context.Background()
	database := openMigrationTestDB(t)

	status, err := database.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus failed: %v", err)
	}
	if len(status) == 0 {
		t.Fatal("expected at least one migration in status")
	}
	for _, s := range status {
		if s.Applied {
			t.Errorf("migration %d should still be pending", s.Version)
		}
	}

	if _, err := database.MigrateUp(ctx); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	status, err = database.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus failed: %v", err)
	}
	for _, s := range status {
		if !s.Applied {
			t.Errorf("migration %d should be applied", s.Version)
		}
		if s.AppliedAt == "" {
			t.Errorf("migration %d should have an applied_at timestamp", s.Version)
		}
	}
}
