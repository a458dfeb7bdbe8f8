// migrate manages the engine's schema migrations from the command line.
//
// Usage: go run ./cmd/migrate <command> [args]
//
// Commands:
//
//	up [name]      Run pending migrations, through name when given
//	down [name]    Revert the last migration, or revert down to name when given
//	reset [name]   Wipe storage and rerun migrations, through name when given
//	create <slug>  Write a timestamped .sql migration file template
//	status         List declared and executed migrations
//
// Configuration comes from config.yaml and the environment, read the same way
// the server reads it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/migrations"
	"github.com/stratumhq/stratum-engine/pkg/audit"
	"github.com/stratumhq/stratum-engine/pkg/config"
	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/identity"
	"github.com/stratumhq/stratum-engine/pkg/migrate"
	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/modelspec"
	"github.com/stratumhq/stratum-engine/pkg/storage"
	_ "github.com/stratumhq/stratum-engine/pkg/storage/mongo"    // Register document adapter
	_ "github.com/stratumhq/stratum-engine/pkg/storage/postgres" // Register relational adapter
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	command := args[0]

	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// create only writes the template file; it needs no connection.
	if command == "create" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Usage: %s create <slug>\n", os.Args[0])
			os.Exit(1)
		}
		loc, err := cfg.Migrations.Location()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid migrations timezone: %v\n", err)
			os.Exit(1)
		}
		path, err := migrate.CreateFile(cfg.Migrations.Dir, args[1], time.Now(), loc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(path)
		return
	}

	var logger *zap.Logger
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	// Single-tenant deployments have no meta organization to derive the
	// system identity from; the bootstrap migrations run with an empty one.
	if !cfg.MultiTenant {
		identity.InitializeSystemContext(map[string]any{}, "")
	}

	engine, provider, err := setupEngine(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to assemble migration engine: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = provider.Close(context.Background()) }()

	toName := ""
	if len(args) > 1 {
		toName = args[1]
	}

	switch command {
	case "up":
		err = engine.UpTo(ctx, toName)
	case "down":
		if toName == "" {
			err = engine.Down(ctx)
		} else {
			err = engine.DownTo(ctx, toName)
		}
	case "reset":
		err = engine.Reset(ctx, toName)
	case "status":
		err = printStatus(ctx, engine)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

// setupEngine connects the configured backend and assembles the migration
// engine over it, the same wiring the server performs at startup.
func setupEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*migrate.Engine, storage.Provider, error) {
	deps := storage.Deps{
		Logger:      logger,
		Auditor:     audit.NewSecurityAuditor(logger),
		Specs:       modelspec.MustNewRegistry(models.Specs()...),
		MultiTenant: cfg.MultiTenant,
	}
	var (
		ledger  migrate.Target
		builder migrate.ModelTarget
		runner  migrate.SQLRunner
	)
	switch cfg.Storage.Backend {
	case config.BackendRelational:
		db, err := database.NewConnection(ctx, &database.Config{
			URL:            cfg.Storage.Database.ConnectionString(),
			MaxConnections: cfg.Storage.Database.MaxConnections,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		deps.Postgres = db
		target := migrate.NewPostgresTarget(db, cfg.MultiTenant)
		ledger, builder, runner = target, target, target
	case config.BackendDocument:
		db, err := database.NewMongoConnection(ctx, &database.MongoConfig{
			URI:      cfg.Storage.Mongo.URI,
			Database: cfg.Storage.Mongo.Database,
			Timeout:  cfg.Storage.Mongo.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		deps.Mongo = db
		target := migrate.NewMongoTarget(db, cfg.MultiTenant)
		ledger, builder = target, target
	}

	provider, err := storage.Open(cfg.Storage.Backend, deps)
	if err != nil {
		return nil, nil, err
	}

	manifest, err := migrate.LoadManifest(cfg.Migrations.Manifest)
	if err != nil {
		return nil, nil, err
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
		if _, err := os.Stat(cfg.Migrations.Dir); err == nil {
			sources = append(sources, migrate.Dir(cfg.Migrations.Dir, runner))
		} else {
			sources = append(sources, migrate.Files(migrations.FS(), runner))
		}
	}

	engine, err := migrate.NewEngine(ctx, ledger, logger, sources...)
	if err != nil {
		return nil, nil, err
	}
	return engine, provider, nil
}

func printStatus(ctx context.Context, engine *migrate.Engine) error {
	statuses, err := engine.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tEXECUTED AT")
	for _, st := range statuses {
		state := "pending"
		switch {
		case st.Executed && !st.Declared:
			// Recorded in the ledger but gone from the sources.
			state = "orphaned"
		case st.Executed:
			state = "executed"
		}
		at := ""
		if st.Executed {
			at = st.ExecutedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", st.Name, state, at)
	}
	return w.Flush()
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [args]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  up [name]      Run pending migrations, through name when given\n")
	fmt.Fprintf(os.Stderr, "  down [name]    Revert the last migration, or revert down to name when given\n")
	fmt.Fprintf(os.Stderr, "  reset [name]   Wipe storage and rerun migrations, through name when given\n")
	fmt.Fprintf(os.Stderr, "  create <slug>  Write a timestamped .sql migration file template\n")
	fmt.Fprintf(os.Stderr, "  status         List declared and executed migrations\n")
}
