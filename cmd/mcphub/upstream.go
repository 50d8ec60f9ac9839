package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ggoodman/mcp-hub-go/client"
	"github.com/ggoodman/mcp-hub-go/internal/config"
	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/transport"
	"github.com/ggoodman/mcp-hub-go/transport/stdio"
	"github.com/ggoodman/mcp-hub-go/transport/streaminghttp"
	"github.com/urfave/cli/v3"
)

// target names an upstream server: a command to launch or a stream URL.
type target struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
	URL     string
	Token   string
}

func targetFromMount(m config.Mount) target {
	return target{Command: m.Command, Args: m.Args, Env: m.Env, Dir: m.Dir, URL: m.URL, Token: m.Token}
}

var targetFlags = []cli.Flag{
	&cli.StringFlag{Name: "url", Usage: "Stream endpoint of the server"},
	&cli.StringFlag{Name: "token", Sources: cli.EnvVars("MCPHUB_TOKEN"), Usage: "Bearer token sent with --url"},
	&cli.StringFlag{Name: "command", Aliases: []string{"c"}, Usage: "Server executable speaking stdio"},
	&cli.StringSliceFlag{Name: "arg", Usage: "Argument passed to --command (repeatable)"},
}

func targetFromFlags(cmd *cli.Command) (target, error) {
	t := target{
		Command: cmd.String("command"),
		Args:    cmd.StringSlice("arg"),
		URL:     cmd.String("url"),
		Token:   cmd.String("token"),
	}
	if (t.Command == "") == (t.URL == "") {
		return target{}, errors.New("exactly one of --command and --url is required")
	}
	return t, nil
}

func (t target) open(ctx context.Context, log *slog.Logger) (transport.Transport, error) {
	if t.URL != "" {
		return streaminghttp.Dial(ctx, t.URL, streaminghttp.WithBearerToken(t.Token), streaminghttp.WithDialLogger(log))
	}
	var copts []stdio.CommandOption
	if len(t.Env) > 0 {
		copts = append(copts, stdio.WithEnv(t.Env...))
	}
	if t.Dir != "" {
		copts = append(copts, stdio.WithDir(t.Dir))
	}
	copts = append(copts, stdio.WithStderr(os.Stderr))
	return stdio.NewCommand(ctx, t.Command, t.Args, copts, stdio.WithLogger(log))
}

// connect opens the transport and completes the handshake.
func (t target) connect(ctx context.Context, log *slog.Logger) (*client.Client, error) {
	tr, err := t.open(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t, err)
	}
	c, err := client.Connect(ctx, tr,
		client.WithLogger(log),
		client.WithClientInfo(mcp.ImplementationInfo{Name: "mcphub", Version: version}),
	)
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("connect %s: %w", t, err)
	}
	return c, nil
}

func (t target) String() string {
	if t.URL != "" {
		return t.URL
	}
	return t.Command
}
