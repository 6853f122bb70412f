package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/threadmem/memcore/internal/cmd/check"
	"github.com/threadmem/memcore/internal/cmd/migrate"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "memcore",
		Usage: "Conversation memory core for AI agents",
		Commands: []*cli.Command{
			migrate.Command(),
			check.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
