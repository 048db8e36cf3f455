// Package testhelpers provides shared fixtures for integration tests.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/database"
)

// postgresImage is the database image integration tests run against.
const postgresImage = "postgres:16-alpine"

// EngineDB holds a shared test database container with migrations applied.
type EngineDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB()
	})

	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedEngineDBErr)
	}

	return sharedEngineDB
}

func setupEngineDB() (*EngineDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "datapulse_engine_test",
			"POSTGRES_USER":     "datapulse",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://datapulse:test_password@%s:%s/datapulse_engine_test?sslmode=disable",
		host, port.Port())

	// Run migrations over a short-lived database/sql connection, the same
	// way main does at startup.
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := database.RunMigrations(sqlDB, migrationsPath(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.NewConnection(ctx, connStr, 5)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	return &EngineDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// migrationsPath resolves the migrations directory relative to this source
// file, so integration tests work regardless of the test working directory.
func migrationsPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// ScopedContext returns a context carrying a workspace-scoped data session.
// The session is released when the test finishes.
func (e *EngineDB) ScopedContext(t *testing.T, ctx context.Context, workspaceID uuid.UUID) context.Context {
	t.Helper()

	scope, err := e.DB.WithWorkspace(ctx, workspaceID)
	if err != nil {
		t.Fatalf("Failed to acquire workspace scope: %v", err)
	}
	t.Cleanup(scope.Close)
	return database.SetWorkspaceScope(ctx, scope)
}

// UnscopedContext returns a context carrying an unscoped data session for
// cross-workspace operations such as workspace creation.
func (e *EngineDB) UnscopedContext(t *testing.T, ctx context.Context) context.Context {
	t.Helper()

	scope, err := e.DB.WithoutWorkspace(ctx)
	if err != nil {
		t.Fatalf("Failed to acquire data session: %v", err)
	}
	t.Cleanup(scope.Close)
	return database.SetWorkspaceScope(ctx, scope)
}
