package check

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/threadmem/memcore/internal/config"
	"github.com/threadmem/memcore/internal/memory"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration.
	_ "github.com/threadmem/memcore/internal/plugin/embed/disabled"
	_ "github.com/threadmem/memcore/internal/plugin/embed/fallback"
	_ "github.com/threadmem/memcore/internal/plugin/embed/local"
	_ "github.com/threadmem/memcore/internal/plugin/embed/openai"
	_ "github.com/threadmem/memcore/internal/plugin/generate/anthropic"
	_ "github.com/threadmem/memcore/internal/plugin/generate/openai"
	_ "github.com/threadmem/memcore/internal/plugin/store/postgres"
	_ "github.com/threadmem/memcore/internal/plugin/store/redis"
	_ "github.com/threadmem/memcore/internal/plugin/store/sqlite"
	_ "github.com/threadmem/memcore/internal/plugin/vector/qdrant"
)

// Command returns the check sub-command, which builds a provider from the
// environment and pings the configured backend.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Verify the configured backend is reachable",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx = config.WithContext(ctx, &cfg)

			provider, err := memory.NewProvider(ctx)
			if err != nil {
				return err
			}
			defer provider.Close()

			if err := provider.HealthCheck(ctx); err != nil {
				return err
			}
			log.Info("Backend is healthy", "store", cfg.StoreType)
			return nil
		},
	}
}
