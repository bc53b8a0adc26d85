package store

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/neo/debatematch_backend/internal/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type migration struct {
	id   int
	name string
	sql  string
}

type migrationRecord struct {
	ID   int
	Name string
}

type migrationRunner struct {
	db *sql.DB
}

func newMigrationRunner(db *sql.DB) *migrationRunner {
	return &migrationRunner{db: db}
}

func (m *migrationRunner) initialize() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

func (m *migrationRunner) load() ([]migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %v", err)
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) != 2 {
			continue
		}

		id, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %v", entry.Name(), err)
		}

		migrations = append(migrations, migration{
			id:   id,
			name: strings.TrimSuffix(parts[1], ".sql"),
			sql:  string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].id < migrations[j].id })
	return migrations, nil
}

func (m *migrationRunner) applied() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT id, name FROM schema_migrations ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query schema_migrations: %v", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var rec migrationRecord
		if err := rows.Scan(&rec.ID, &rec.Name); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %v", err)
		}
		applied[rec.ID] = true
	}
	return applied, nil
}

func (m *migrationRunner) apply(mig migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %v", err)
	}

	if _, err := tx.Exec(mig.sql); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to apply migration %d_%s: %v", mig.id, mig.name, err)
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (id, name) VALUES (?, ?)", mig.id, mig.name); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %d_%s: %v", mig.id, mig.name, err)
	}

	return tx.Commit()
}

// up applies every embedded migration not yet recorded as applied.
func (m *migrationRunner) up() error {
	if err := m.initialize(); err != nil {
		return fmt.Errorf("failed to initialize schema_migrations table: %v", err)
	}

	migrations, err := m.load()
	if err != nil {
		return err
	}

	applied, err := m.applied()
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if applied[mig.id] {
			continue
		}
		logging.LogStoreEvent("MIGRATE", "schema_migrations", map[string]interface{}{
			"migration_id":   mig.id,
			"migration_name": mig.name,
		})
		if err := m.apply(mig); err != nil {
			return err
		}
	}

	return nil
}
