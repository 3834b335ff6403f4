package repository

import (
	"database/sql"
	"testing"

	"ocrbase/internal/database/migrations"
	_ "github.com/tursodatabase/go-libsql"
)

// setupTestDB creates an in-memory libsql database for testing, with
// migrations applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// insertTestJob is a helper to insert a minimal test job row directly.
func insertTestJob(t *testing.T, db *sql.DB, id, tenantID, status string) {
	t.Helper()
	query := `
		INSERT INTO jobs (id, tenant_id, type, status, source_url, max_attempts, created_at, updated_at)
		VALUES (?, ?, 'parse', ?, 'https://example.com/doc.pdf', 3, datetime('now'), datetime('now'))
	`
	if _, err := db.Exec(query, id, tenantID, status); err != nil {
		t.Fatalf("failed to insert test job: %v", err)
	}
}
