package database

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/medical-examination-assistant/internal/domain"
)

func startPostgres(t *testing.T, ctx context.Context) (*postgres.PostgresContainer, Config) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return pgContainer, Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    "testpass",
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestDatabaseConnection(t *testing.T) {
	ctx := context.Background()
	_, config := startPostgres(t, ctx)

	db, err := NewConnection(ctx, config, quietLogger())
	require.NoError(t, err, "Failed to create database connection")
	defer db.Close()

	require.NoError(t, db.Health(ctx))

	stats := db.Stats()
	assert.NotZero(t, stats.TotalConns(), "Expected at least one connection in pool")

	var app string
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT current_setting('application_name')`).Scan(&app))
	assert.Equal(t, ApplicationName, app)
}

func TestMigrationRunner(t *testing.T) {
	ctx := context.Background()
	pgContainer, config := startPostgres(t, ctx)

	url, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	runner, err := NewMigrationRunner(url, quietLogger())
	require.NoError(t, err)
	defer runner.Close()

	state, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, SchemaState{}, state)
	assert.Equal(t, "no migrations applied", state.String())

	require.NoError(t, runner.Up(ctx))
	// second run is a no-op
	require.NoError(t, runner.Up(ctx))

	state, err = runner.Version()
	require.NoError(t, err)
	assert.Equal(t, SchemaState{Version: 1}, state)

	db, err := NewConnection(ctx, config, quietLogger())
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"patients", "examination_sessions", "medical_records", "comparison_records"} {
		var exists bool
		err := db.Pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}

	require.NoError(t, runner.Down(ctx, 1))
	state, err = runner.Version()
	require.NoError(t, err)
	assert.Zero(t, state.Version)

	// nothing left to roll back
	require.NoError(t, runner.Down(ctx, 0))
}

func TestConfigFromDomain(t *testing.T) {
	c := ConfigFromDomain(domain.DatabaseConfig{
		Host:            "db",
		Port:            5432,
		Database:        "clinic",
		Username:        "u",
		Password:        "p",
		SSLMode:         "require",
		MaxOpenConns:    20,
		MaxIdleConns:    4,
		ConnMaxLifetime: 10 * time.Minute,
	})

	assert.Equal(t, int32(20), c.MaxConns)
	assert.Equal(t, int32(4), c.MinConns)
	assert.Equal(t, 5*time.Minute, c.MaxConnIdle)
	assert.Equal(t, "host=db port=5432 dbname=clinic user=u password=p sslmode=require", c.DSN())
}
