package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/threadmem/memcore/internal/config"
	registrymigrate "github.com/threadmem/memcore/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/threadmem/memcore/internal/plugin/store/postgres"
	_ "github.com/threadmem/memcore/internal/plugin/store/sqlite"
	_ "github.com/threadmem/memcore/internal/plugin/vector/qdrant"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run backend schema migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store",
				Sources: cli.EnvVars("MEMCORE_STORE"),
				Usage:   "Store backend (postgres|redis|sqlite)",
				Value:   "postgres",
			},
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("MEMCORE_DB_URL"),
				Usage:   "Postgres connection URL",
			},
			&cli.StringFlag{
				Name:    "sqlite-path",
				Sources: cli.EnvVars("MEMCORE_SQLITE_PATH"),
				Usage:   "SQLite database file path",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			cfg.StoreType = cmd.String("store")
			if v := cmd.String("db-url"); v != "" {
				cfg.DBURL = v
			}
			if v := cmd.String("sqlite-path"); v != "" {
				cfg.SQLitePath = v
			}
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
