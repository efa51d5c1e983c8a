// Package migrations embeds the engagement schema and applies it in file
// order, recording each file in schema_migrations.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"

	"engageflow/db"
)

//go:embed *.sql
var files embed.FS

const ledgerDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    name       text PRIMARY KEY,
    applied_at timestamptz NOT NULL DEFAULT now()
)`

// Names lists the embedded migration files in apply order.
func Names() ([]string, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: list: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Apply runs every migration not yet in the ledger, one transaction per
// file, and returns the names it applied.
func Apply(ctx context.Context, pool db.TxBeginner) ([]string, error) {
	names, err := Names()
	if err != nil {
		return nil, err
	}

	var applied []string
	for i, name := range names {
		ran, err := applyOne(ctx, pool, name, i == 0)
		if err != nil {
			return applied, err
		}
		if ran {
			applied = append(applied, name)
		}
	}
	return applied, nil
}

func applyOne(ctx context.Context, pool db.TxBeginner, name string, ensureLedger bool) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("migrations: begin %s: %w", name, err)
	}
	defer tx.Rollback(ctx)

	if ensureLedger {
		if _, err := tx.Exec(ctx, ledgerDDL); err != nil {
			return false, fmt.Errorf("migrations: ledger: %w", err)
		}
	}

	var done bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&done); err != nil {
		return false, fmt.Errorf("migrations: check %s: %w", name, err)
	}
	if done {
		return false, nil
	}

	body, err := files.ReadFile(name)
	if err != nil {
		return false, fmt.Errorf("migrations: read %s: %w", name, err)
	}
	// Simple protocol so a multi-statement file runs in one round trip.
	if _, err := tx.Exec(ctx, string(body), pgx.QueryExecModeSimpleProtocol); err != nil {
		return false, fmt.Errorf("migrations: apply %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
		return false, fmt.Errorf("migrations: record %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("migrations: commit %s: %w", name, err)
	}
	return true, nil
}
