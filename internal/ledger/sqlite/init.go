package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the run-history database at path and creates the schema if
// it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY,
		run_id TEXT UNIQUE,
		dataset TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		planned INTEGER,
		succeeded INTEGER,
		skipped INTEGER,
		failed INTEGER,
		bytes_fetched INTEGER
	)`)

	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS run_failures (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		file_name TEXT,
		service TEXT,
		year INTEGER,
		month INTEGER,
		class TEXT,
		reason TEXT,
		attempts INTEGER
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
