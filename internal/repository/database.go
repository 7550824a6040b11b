package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
)

func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("Error trying to open DB: %w", err)
	}

	// Each connection to :memory: is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("Error trying to connect: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("Error trying to create tables: %w", err)
	}

	return db, nil
}

// isConstraint reports whether err is the driver's extended result code for
// the given constraint failure.
func isConstraint(err error, code int) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == code
}

func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func createTables(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS projects (
        name TEXT PRIMARY KEY,
        uuid TEXT NOT NULL,
        created_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS tasks (
        id TEXT PRIMARY KEY,
        project TEXT NOT NULL,
        sheet TEXT NOT NULL,
        number INTEGER NOT NULL,
        name TEXT NOT NULL,
        phase TEXT NOT NULL DEFAULT '',
        category TEXT NOT NULL DEFAULT '',
        classification TEXT NOT NULL DEFAULT '',
        priority TEXT NOT NULL,
        estimated_duration_days INTEGER,
        completion_percent INTEGER NOT NULL DEFAULT 0,
        is_completed INTEGER NOT NULL DEFAULT 0,
        progress_report TEXT NOT NULL DEFAULT '',
        collaborators TEXT NOT NULL DEFAULT '[]',
        owner_operator TEXT NOT NULL DEFAULT '',
        claimed_at TEXT,
        previous_owner TEXT NOT NULL DEFAULT '',
        completed_by TEXT NOT NULL DEFAULT '',
        completed_at TEXT,
        version INTEGER NOT NULL,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL,
        UNIQUE (project, sheet, number),
        FOREIGN KEY (project) REFERENCES projects(name)
    );

    CREATE INDEX IF NOT EXISTS idx_tasks_sheet_number ON tasks(sheet, number);

    CREATE TABLE IF NOT EXISTS audit_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        action TEXT NOT NULL,
        actor TEXT NOT NULL,
        task_id TEXT NOT NULL,
        version INTEGER NOT NULL,
        before_json TEXT,
        after_json TEXT,
        at TEXT NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_audit_task ON audit_log(task_id);
    `

	_, err := db.Exec(schema)
	return err
}
