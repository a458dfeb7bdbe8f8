package testhelpers

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/database"
)

// Container images the integration suite runs against.
const (
	postgresImage = "postgres:16-alpine"
	mongoImage    = "mongo:7"
)

// databaseSeq numbers the per-test databases carved out of the shared
// containers.
var databaseSeq atomic.Int64

// PostgresContainer holds the shared relational test container and an admin
// connection for creating per-test databases.
type PostgresContainer struct {
	Container *postgres.PostgresContainer
	Admin     *database.DB
	ConnStr   string
}

var (
	sharedPostgres     *PostgresContainer
	sharedPostgresOnce sync.Once
	sharedPostgresErr  error
)

// GetPostgres returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedPostgresOnce.Do(func() {
		sharedPostgres, sharedPostgresErr = setupPostgres()
	})

	if sharedPostgresErr != nil {
		t.Fatalf("Failed to set up postgres container: %v", sharedPostgresErr)
	}

	return sharedPostgres
}

func setupPostgres() (*PostgresContainer, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("stratum"),
		postgres.WithUsername("stratum"),
		postgres.WithPassword("stratum_test"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	admin, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	}, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres container: %w", err)
	}

	return &PostgresContainer{
		Container: container,
		Admin:     admin,
		ConnStr:   connStr,
	}, nil
}

// NewDatabase creates a fresh database on the shared container and returns a
// pool connected to it. Every caller gets its own database, so tests never
// see each other's tables.
func (p *PostgresContainer) NewDatabase(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	name := fmt.Sprintf("stratum_test_%d", databaseSeq.Add(1))
	if _, err := p.Admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE %q", name)); err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	u, err := url.Parse(p.ConnStr)
	if err != nil {
		t.Fatalf("Failed to parse connection string: %v", err)
	}
	u.Path = "/" + name

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            u.String(),
		MaxConnections: 5,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to connect to test database %s: %v", name, err)
	}
	t.Cleanup(db.Close)

	return db
}

// MongoContainer holds the shared document-store test container.
type MongoContainer struct {
	Container testcontainers.Container
	URI       string
}

var (
	sharedMongo     *MongoContainer
	sharedMongoOnce sync.Once
	sharedMongoErr  error
)

// GetMongo returns a shared MongoDB container for integration tests. The
// container is created once and reused across all tests in the run.
func GetMongo(t *testing.T) *MongoContainer {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedMongoOnce.Do(func() {
		sharedMongo, sharedMongoErr = setupMongo()
	})

	if sharedMongoErr != nil {
		t.Fatalf("Failed to set up mongo container: %v", sharedMongoErr)
	}

	return sharedMongo
}

func setupMongo() (*MongoContainer, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        mongoImage,
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor: wait.ForLog("Waiting for connections").
			WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start mongo container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "27017")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	return &MongoContainer{
		Container: container,
		URI:       fmt.Sprintf("mongodb://%s:%s", host, port.Port()),
	}, nil
}

// NewDatabase returns a client bound to a fresh database name on the shared
// container. Mongo creates the database on first write.
func (m *MongoContainer) NewDatabase(t *testing.T) *database.MongoDB {
	t.Helper()
	ctx := context.Background()

	name := fmt.Sprintf("stratum_test_%d", databaseSeq.Add(1))
	db, err := database.NewMongoConnection(ctx, &database.MongoConfig{
		URI:      m.URI,
		Database: name,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to connect to test database %s: %v", name, err)
	}
	t.Cleanup(func() {
		_ = db.Database.Drop(context.Background())
		_ = db.Close(context.Background())
	})

	return db
}
