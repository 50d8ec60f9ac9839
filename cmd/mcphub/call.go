package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ggoodman/mcp-hub-go/client"
	"github.com/ggoodman/mcp-hub-go/registry"
	"github.com/urfave/cli/v3"
)

func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Call one tool and print its result",
		ArgsUsage: "<tool>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "args", Value: "{}", Usage: "Tool arguments as a JSON object"},
			&cli.DurationFlag{Name: "timeout", Usage: "Abandon the call after this long"},
		}, targetFlags...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				return errors.New("tool name required")
			}
			args := json.RawMessage(cmd.String("args"))
			if !json.Valid(args) {
				return fmt.Errorf("--args is not valid JSON")
			}
			return withClient(ctx, cmd, func(c *client.Client) error {
				var copts []client.CallOption
				if d := cmd.Duration("timeout"); d > 0 {
					copts = append(copts, client.WithTimeout(d))
				}
				res, err := c.CallTool(ctx, name, args, copts...)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the capabilities a server exposes",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "kind", Usage: "Restrict to one of: tool, resource, prompt"},
		}, targetFlags...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			kind, err := parseKind(cmd.String("kind"))
			if err != nil {
				return err
			}
			return withClient(ctx, cmd, func(c *client.Client) error {
				caps, err := c.ListCapabilities(ctx, kind)
				if err != nil {
					return err
				}
				return printJSON(caps)
			})
		},
	}
}

func parseKind(s string) (*registry.Kind, error) {
	if s == "" {
		return nil, nil
	}
	for _, k := range registry.Kinds {
		if strings.EqualFold(k.String(), s) {
			return &k, nil
		}
	}
	return nil, fmt.Errorf("unknown kind %q", s)
}

func withClient(ctx context.Context, cmd *cli.Command, fn func(*client.Client) error) error {
	log, err := newLogger(cmd, new(slog.LevelVar))
	if err != nil {
		return err
	}
	t, err := targetFromFlags(cmd)
	if err != nil {
		return err
	}
	c, err := t.connect(ctx, log)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
