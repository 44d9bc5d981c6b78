package storage

import (
	"bufio"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const migrationTable = "schema_migrations"

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

//go:embed migrations
var migrationFS embed.FS

// Migrate applies the embedded migrations for the DB's dialect.
func (d *DB) Migrate(ctx context.Context) ([]string, error) {
	return d.ApplyMigrations(ctx, migrationFS, path.Join("migrations", string(d.Dialect)))
}

// ApplyMigrations runs each .sql file directly under root once, in name
// order, and returns the names applied by this call. Each file is checked,
// executed and recorded in its own transaction.
func (d *DB) ApplyMigrations(ctx context.Context, migrations fs.FS, root string) ([]string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	files, err := fs.Glob(migrations, path.Join(root, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	if _, err := d.SQL.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`); err != nil {
		return nil, fmt.Errorf("ensure %s: %w", migrationTable, err)
	}

	applied := make([]string, 0, len(files))
	for _, file := range files {
		name := path.Base(file)
		content, err := fs.ReadFile(migrations, file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", name, err)
		}
		ran, err := d.applyMigration(ctx, name, upSection(string(content)))
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", name, err)
		}
		if ran {
			applied = append(applied, name)
		}
	}
	return applied, nil
}

// applyMigration reports false when name is already recorded or body is empty.
func (d *DB) applyMigration(ctx context.Context, name, body string) (bool, error) {
	if strings.TrimSpace(body) == "" {
		return false, nil
	}

	tx, err := d.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM `+migrationTable+` WHERE name = ?`, name).Scan(&one)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("check applied: %w", err)
	}

	// Migration bodies are executed as written, without placeholder rebinding.
	if _, err := tx.tx.ExecContext(ctx, body); err != nil {
		return false, fmt.Errorf("exec: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
		name, ToMillis(time.Now()),
	); err != nil {
		return false, fmt.Errorf("record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// upSection keeps the lines between the Up and Down markers. Files without an
// Up marker run whole.
func upSection(content string) string {
	if !strings.Contains(content, upMarker) {
		return content
	}

	var b strings.Builder
	inUp := false
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), len(content)+1)
	for sc.Scan() {
		line := sc.Text()
		switch strings.TrimSpace(line) {
		case upMarker:
			inUp = true
			continue
		case downMarker:
			inUp = false
			continue
		}
		if inUp {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
