package migrate_test

import (
	"testing"

	"teamline/internal/db"
	"teamline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// A second run must skip everything already applied.
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if version != 1 {
		t.Fatalf("schema version = %d, want 1", version)
	}
	// Spot-check that the applied schema is usable.
	if _, err := conn.Exec(`INSERT INTO users(id,username,role,created_at) VALUES ('u1','alice','member','2024-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("insert into migrated schema: %v", err)
	}
}
