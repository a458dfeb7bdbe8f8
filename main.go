package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/migrations"
	"github.com/stratumhq/stratum-engine/pkg/audit"
	"github.com/stratumhq/stratum-engine/pkg/auth"
	"github.com/stratumhq/stratum-engine/pkg/config"
	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/handlers"
	"github.com/stratumhq/stratum-engine/pkg/identity"
	"github.com/stratumhq/stratum-engine/pkg/middleware"
	"github.com/stratumhq/stratum-engine/pkg/migrate"
	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/services"
	"github.com/stratumhq/stratum-engine/pkg/storage"
	_ "github.com/stratumhq/stratum-engine/pkg/storage/mongo"    // Register document adapter
	_ "github.com/stratumhq/stratum-engine/pkg/storage/postgres" // Register relational adapter
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize zap logger
	var logger *zap.Logger
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Log startup configuration
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("multi_tenant", cfg.MultiTenant),
		zap.String("auth_mode", cfg.Auth.Mode),
	)

	ctx := context.Background()
	auditor := audit.NewSecurityAuditor(logger)
	specs := modelspec.MustNewRegistry(models.Specs()...)

	// Single-tenant deployments have no meta organization to derive the
	// system identity from; migrations and other system writes run with an
	// empty one.
	if !cfg.MultiTenant {
		identity.InitializeSystemContext(map[string]any{}, "")
	}

	// Connect the selected backend. The migration target shares the handle
	// with the storage provider.
	deps := storage.Deps{
		Logger:      logger,
		Auditor:     auditor,
		Specs:       specs,
		MultiTenant: cfg.MultiTenant,
	}
	var (
		ledger  migrate.Target
		builder migrate.ModelTarget
		runner  migrate.SQLRunner
	)
	switch cfg.Storage.Backend {
	case config.BackendRelational:
		db, err := setupDatabase(ctx, &cfg.Storage.Database, logger)
		if err != nil {
			logger.Fatal("Failed to setup database", zap.Error(err))
		}
		deps.Postgres = db
		target := migrate.NewPostgresTarget(db, cfg.MultiTenant)
		ledger, builder, runner = target, target, target
	case config.BackendDocument:
		db, err := setupMongo(ctx, &cfg.Storage.Mongo, logger)
		if err != nil {
			logger.Fatal("Failed to setup mongo", zap.Error(err))
		}
		deps.Mongo = db
		target := migrate.NewMongoTarget(db, cfg.MultiTenant)
		ledger, builder = target, target
	}

	provider, err := storage.Open(cfg.Storage.Backend, deps)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer func() { _ = provider.Close(context.Background()) }()

	// Migrations run on every start; the ledger makes them idempotent. File
	// migrations are SQL, so only the relational backend carries them.
	manifest, err := migrate.LoadManifest(cfg.Migrations.Manifest)
	if err != nil {
		logger.Fatal("Failed to load migration manifest", zap.Error(err))
	}
	sources := []migrate.Source{
		migrate.Synthetic(builder, provider, migrate.SyntheticConfig{
			MultiTenant:   cfg.MultiTenant,
			MetaOrgName:   cfg.Bootstrap.MetaOrgName,
			MetaOrgCode:   cfg.Bootstrap.MetaOrgCode,
			AdminEmail:    cfg.Bootstrap.AdminEmail,
			AdminPassword: cfg.Bootstrap.AdminPassword,
			Manifest:      manifest,
		}, logger),
	}
	if runner != nil {
		sources = append(sources, fileMigrations(cfg.Migrations.Dir, runner, logger))
	}
	engine, err := migrate.NewEngine(ctx, ledger, logger, sources...)
	if err != nil {
		logger.Fatal("Failed to assemble migration engine", zap.Error(err))
	}
	if err := engine.Up(ctx); err != nil {
		logger.Fatal("Migrations failed", zap.Error(err))
	}

	// In multi-tenant mode the meta organization row anchors the system
	// identity and the tenant scope policies.
	var metaOrgID string
	if cfg.MultiTenant {
		metaOrgID, err = migrate.EnsureSystemContext(ctx, provider, cfg.Bootstrap.MetaOrgCode)
		if err != nil {
			logger.Fatal("Failed to resolve the meta organization", zap.Error(err))
		}
	}

	// Create token verifier and auth middleware
	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		logger.Fatal("Failed to initialize token verifier", zap.Error(err))
	}
	authMiddleware := auth.NewMiddleware(verifier, auditor, logger)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(provider, cfg, logger)
	healthHandler.RegisterRoutes(mux)

	// The login surface issues tokens, so it exists only when this engine
	// owns the signing secret. JWKS deployments delegate login to the
	// external issuer.
	if cfg.Auth.Mode == config.AuthModeSecret && !manifest.Disabled(migrate.GroupAuth) {
		authService, err := auth.NewService(
			provider.Store(models.Users),
			provider.Store(models.RefreshTokens),
			cfg.Auth, logger)
		if err != nil {
			logger.Fatal("Failed to initialize auth service", zap.Error(err))
		}
		authHandler := handlers.NewAuthHandler(authService, auditor, logger)
		authHandler.RegisterRoutes(mux, authMiddleware)
	}

	// Generic REST resources: one controller per enabled system model.
	// Business deployments register their own models the same way.
	tenantScope := services.Passthrough()
	if cfg.MultiTenant {
		tenantScope = services.TenantScope(metaOrgID, auditor)
	}
	resource := func(spec *modelspec.Spec, opts services.Options) {
		if opts.Logger == nil {
			opts.Logger = logger
		}
		svc := services.NewGenericService(provider.Store(spec), opts)
		handlers.NewResource(svc, logger).RegisterRoutes(mux, authMiddleware)
	}

	if cfg.MultiTenant && !manifest.Disabled(migrate.GroupTenancy) {
		resource(models.Organizations, services.Options{
			Scope: services.MetaOrgOnly(metaOrgID, auditor),
		})
	}
	if !manifest.Disabled(migrate.GroupAuth) {
		resource(models.Users, services.Options{
			Hooks: models.UserHooks(),
			Scope: tenantScope,
		})
		// Refresh tokens get no REST surface; the auth service is their
		// only reader and writer.
	}
	if !manifest.Disabled(migrate.GroupRBAC) {
		resource(models.Roles, services.Options{Scope: tenantScope})
		resource(models.UserRoles, services.Options{
			// Join only the role side. Joined blocks bypass the joined
			// model's projection, so user rows leave solely through the
			// projected users resource.
			Joins: []storage.Operation{
				storage.LeftJoin(models.Roles.StorageName(), "roleId", modelspec.FieldID, "role"),
			},
			Scope: tenantScope,
		})
		resource(models.Features, services.Options{Scope: tenantScope})
		resource(models.Authorizations, services.Options{
			Joins: []storage.Operation{
				storage.LeftJoin(models.Roles.StorageName(), "roleId", modelspec.FieldID, "role"),
				storage.LeftJoin(models.Features.StorageName(), "featureId", modelspec.FieldID, "feature"),
			},
			Scope: tenantScope,
		})
	}

	// Wrap mux with request logging middleware
	handler := middleware.RequestLogger(logger)(mux)

	// Create HTTP server
	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: handler,
	}

	// Configure TLS with minimum version 1.2 for security
	if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
		server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Channel to signal shutdown complete
	shutdownComplete := make(chan struct{})

	// Handle shutdown signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan

		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		// Create shutdown context with 30 second timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}

		close(shutdownComplete)
	}()

	// Start server
	if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
		logger.Info("Starting HTTPS server",
			zap.String("addr", cfg.BindAddr+":"+cfg.Port),
			zap.String("version", cfg.Version),
			zap.String("cert", cfg.TLSCertPath),
			zap.String("key", cfg.TLSKeyPath))
		err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
	} else {
		logger.Info("Starting HTTP server",
			zap.String("addr", cfg.BindAddr+":"+cfg.Port),
			zap.String("version", cfg.Version))
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}

	// Wait for shutdown to complete
	<-shutdownComplete
	logger.Info("Server shutdown complete")
}

func setupDatabase(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*database.DB, error) {
	logger.Info("Connecting to database",
		zap.String("user", cfg.User),
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database))

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.ConnectionString(),
		MaxConnections: cfg.MaxConnections,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func setupMongo(ctx context.Context, cfg *config.MongoConfig, logger *zap.Logger) (*database.MongoDB, error) {
	db, err := database.NewMongoConnection(ctx, &database.MongoConfig{
		URI:      cfg.URI,
		Database: cfg.Database,
		Timeout:  cfg.ConnectTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	return db, nil
}

// fileMigrations reads the on-disk migration directory when it exists and
// falls back to the set embedded in the binary, so stock deployments migrate
// without shipping the directory alongside the executable.
func fileMigrations(dir string, runner migrate.SQLRunner, logger *zap.Logger) migrate.Source {
	if _, err := os.Stat(dir); err == nil {
		logger.Info("Using migration directory", zap.String("dir", dir))
		return migrate.Dir(dir, runner)
	}
	logger.Info("Using embedded migrations")
	return migrate.Files(migrations.FS(), runner)
}
