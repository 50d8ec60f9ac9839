// Command mcphub serves a registry of local and mounted capabilities over
// stdio or HTTP, and offers one-shot client commands against any server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/mcp-hub-go/internal/config"
	"github.com/ggoodman/mcp-hub-go/internal/logctx"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"
)

var version = "dev"

// globalFlags are available on every command.
var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "log-level",
		Aliases: []string{"l"},
		Sources: cli.EnvVars("MCPHUB_LOG_LEVEL"),
		Value:   "info",
		Usage:   "Set the log level.  One of: debug, info, warn, error.",
	},
	&cli.BoolFlag{
		Name:    "json",
		Sources: cli.EnvVars("MCPHUB_LOG_JSON"),
		Usage:   "Output logs as JSON.",
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:    "mcphub",
		Usage:   "Aggregate MCP servers behind a single endpoint",
		Version: version,
		Flags:   globalFlags,
		Commands: []*cli.Command{
			serveCommand(),
			callCommand(),
			listCommand(),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. Output always goes to stderr since
// stdout may carry the stdio transport.
func newLogger(cmd *cli.Command, lv *slog.LevelVar) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(cmd.String("log-level"))
	if err != nil {
		return nil, err
	}
	lv.Set(lvl)

	var h slog.Handler
	if cmd.Bool("json") {
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lv})
	} else {
		h = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lv,
			TimeFormat: time.TimeOnly,
		})
	}
	return logctx.New(h), nil
}
