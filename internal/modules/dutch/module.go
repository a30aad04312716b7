// Package dutch is the Dutch-learning capability module: a SQLite-backed
// vocabulary store with spaced repetition, progress tracking, and a daily
// streak. The database is module-owned; nothing else in the system touches it.
package dutch

import (
	"context"
	"fmt"
	"log/slog"

	"hearth/internal/db"
	"hearth/internal/tooling"
)

// Module is the Dutch-learning capability module.
type Module struct {
	dbURL    string
	seedPath string
	logger   *slog.Logger

	store *Store
	close func() error
	tools []tooling.SchemaTool
}

// Option is a functional option for configuring the Module.
type Option func(*Module)

// WithLogger sets a structured logger. If l is nil it is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSeedFile sets a YAML starter-vocabulary file loaded on first run,
// when the vocabulary table is empty.
func WithSeedFile(path string) Option {
	return func(m *Module) { m.seedPath = path }
}

// NewModule creates the dutch module backed by the given database URL
// (file: for local SQLite, libsql:// for a remote replica).
func NewModule(dbURL string, opts ...Option) *Module {
	m := &Module{dbURL: dbURL}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the module identifier.
func (m *Module) ID() string { return "dutch" }

func (m *Module) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}

// Initialize opens the database, migrates the schema, seeds starter
// vocabulary on an empty table, and builds the tool set.
func (m *Module) Initialize(ctx context.Context) error {
	conn, err := db.Connect(m.dbURL)
	if err != nil {
		return fmt.Errorf("dutch database: %w", err)
	}
	m.close = conn.Close
	m.store = NewStore(conn)

	if err := m.store.Migrate(ctx); err != nil {
		conn.Close()
		return err
	}

	if m.seedPath != "" {
		count, err := m.store.Count(ctx)
		if err != nil {
			conn.Close()
			return err
		}
		if count == 0 {
			added, err := m.store.SeedFromYAML(ctx, m.seedPath)
			if err != nil {
				conn.Close()
				return err
			}
			m.log().Info("seeded starter vocabulary", "words", added)
		}
	}

	m.tools = []tooling.SchemaTool{
		&AddWordTool{store: m.store},
		&SearchTool{store: m.store},
		&ReviewWordsTool{store: m.store},
		&RecordReviewTool{store: m.store},
		&ProgressStatsTool{store: m.store},
		&StreakInfoTool{store: m.store},
	}
	return nil
}

// Tools returns the module's tools. Only valid after Initialize.
func (m *Module) Tools() []tooling.SchemaTool { return m.tools }

// Cleanup closes the database connection.
func (m *Module) Cleanup() error {
	if m.close != nil {
		return m.close()
	}
	return nil
}
