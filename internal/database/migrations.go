package database

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SchemaState is the applied migration version. Version 0 means an empty schema.
type SchemaState struct {
	Version uint
	Dirty   bool
}

func (s SchemaState) String() string {
	if s.Version == 0 {
		return "no migrations applied"
	}
	return fmt.Sprintf("version %d (dirty: %t)", s.Version, s.Dirty)
}

// MigrationRunner applies the embedded clinical schema migrations
type MigrationRunner struct {
	migrate *migrate.Migrate
	log     *logrus.Logger
}

// NewMigrationRunner opens the embedded migrations against a postgres:// URL
func NewMigrationRunner(databaseURL string, logger *logrus.Logger) (*MigrationRunner, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating migration instance: %w", err)
	}
	m.Log = migrateLogger{logger}

	return &MigrationRunner{migrate: m, log: logger}, nil
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (mr *MigrationRunner) Up(ctx context.Context) error {
	mr.log.Info("Applying schema migrations")
	return mr.apply(ctx, "up", mr.migrate.Up)
}

// Down rolls back steps migrations; steps <= 0 rolls back all of them
func (mr *MigrationRunner) Down(ctx context.Context, steps int) error {
	mr.log.WithField("steps", steps).Info("Rolling back schema migrations")
	if steps <= 0 {
		return mr.apply(ctx, "down", mr.migrate.Down)
	}
	return mr.apply(ctx, "down", func() error { return mr.migrate.Steps(-steps) })
}

// apply runs fn, asking golang-migrate to stop after the current step when ctx ends
func (mr *MigrationRunner) apply(ctx context.Context, direction string, fn func() error) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mr.migrate.GracefulStop <- true
		case <-done:
		}
	}()

	if err := fn(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mr.log.WithField("direction", direction).Info("Schema already at target version")
			return nil
		}
		return fmt.Errorf("running migrations %s: %w", direction, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("migrations %s interrupted: %w", direction, err)
	}

	state, err := mr.Version()
	if err != nil {
		mr.log.WithError(err).Warn("Could not read schema version")
		return nil
	}
	mr.log.WithFields(logrus.Fields{
		"direction": direction,
		"version":   state.Version,
		"dirty":     state.Dirty,
	}).Info("Schema migrations applied")
	return nil
}

// Version reports the applied schema version
func (mr *MigrationRunner) Version() (SchemaState, error) {
	version, dirty, err := mr.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaState{}, nil
	}
	if err != nil {
		return SchemaState{}, fmt.Errorf("reading schema version: %w", err)
	}
	return SchemaState{Version: version, Dirty: dirty}, nil
}

// Close releases the source and the database handle
func (mr *MigrationRunner) Close() error {
	sourceErr, dbErr := mr.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

// migrateLogger routes golang-migrate's verbose output to logrus at debug level
type migrateLogger struct {
	log *logrus.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debugf(format, v...)
}

func (l migrateLogger) Verbose() bool {
	return l.log.IsLevelEnabled(logrus.DebugLevel)
}
