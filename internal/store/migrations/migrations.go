// Package migrations holds the snapshot store schema as goose migrations.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var files embed.FS

// goose keeps its base FS and dialect in package state.
var mu sync.Mutex

func setup() error {
	goose.SetBaseFS(files)
	goose.SetLogger(goose.NopLogger())
	return goose.SetDialect("sqlite3")
}

// Run applies every pending migration.
func Run(db *sql.DB) error {
	mu.Lock()
	defer mu.Unlock()
	if err := setup(); err != nil {
		return err
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Reset rolls every migration back.
func Reset(db *sql.DB) error {
	mu.Lock()
	defer mu.Unlock()
	if err := setup(); err != nil {
		return err
	}
	return goose.Reset(db, ".")
}

// Version returns the applied schema version.
func Version(db *sql.DB) (int64, error) {
	mu.Lock()
	defer mu.Unlock()
	if err := setup(); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}
