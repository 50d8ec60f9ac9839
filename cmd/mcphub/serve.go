package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ggoodman/mcp-hub-go/auth"
	"github.com/ggoodman/mcp-hub-go/fsresources"
	"github.com/ggoodman/mcp-hub-go/internal/config"
	"github.com/ggoodman/mcp-hub-go/registry"
	"github.com/ggoodman/mcp-hub-go/server"
	"github.com/ggoodman/mcp-hub-go/sessions/redishost"
	redisstorage "github.com/ggoodman/mcp-hub-go/storage/redis"
	"github.com/ggoodman/mcp-hub-go/transport/stdio"
	"github.com/ggoodman/mcp-hub-go/transport/streaminghttp"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the configured registry and mounts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Sources: cli.EnvVars("MCPHUB_CONFIG"),
				Usage:   "Topology file (YAML)",
			},
			&cli.StringFlag{
				Name:  "transport",
				Value: "stdio",
				Usage: "One of: stdio, http",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "HTTP listen address (overrides MCPHUB_LISTEN_ADDR)",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	lv := new(slog.LevelVar)
	log, err := newLogger(cmd, lv)
	if err != nil {
		return err
	}
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if cmd.IsSet("listen") {
		env.ListenAddr = cmd.String("listen")
	}
	if p := cmd.String("config"); p != "" {
		env.ConfigFile = p
	}

	topo := &config.Topology{}
	if env.ConfigFile != "" {
		if topo, err = config.Load(env.ConfigFile); err != nil {
			return err
		}
		log.InfoContext(ctx, "config.loaded", slog.String("file", env.ConfigFile))
	}

	opts := append(topo.Server.ServerOptions(), server.WithLogger(log))
	if env.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: env.RedisAddr})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		store, err := redisstorage.New(redisstorage.Config{Client: rc, KeyPrefix: env.RedisKeyPrefix + "storage:", Shared: true})
		if err != nil {
			return err
		}
		host := redishost.NewWithClient(rc, redishost.Config{KeyPrefix: env.RedisKeyPrefix + "sessions:"})
		opts = append(opts, server.WithStorage(store), server.WithSessionHost(host))
		log.InfoContext(ctx, "redis.connected", slog.String("addr", env.RedisAddr))
	}

	reg := registry.New()
	srv := server.New(reg, opts...)
	defer srv.Close()

	for _, m := range topo.Mounts {
		c, err := targetFromMount(m).connect(ctx, log)
		if err != nil {
			return fmt.Errorf("mount %q: %w", m.Namespace, err)
		}
		if m.Import {
			// Imported records keep calling c, so it lives until shutdown.
			defer c.Close()
			if err := srv.Import(ctx, m.Namespace, c, m.MountOptions()...); err != nil {
				return fmt.Errorf("import %q: %w", m.Namespace, err)
			}
			log.InfoContext(ctx, "import.ok", slog.String("namespace", m.Namespace), slog.String("server", c.ServerInfo().Name))
			continue
		}
		if err := srv.Mount(ctx, m.Namespace, c, m.MountOptions()...); err != nil {
			_ = c.Close()
			return fmt.Errorf("mount %q: %w", m.Namespace, err)
		}
		log.InfoContext(ctx, "mount.ok", slog.String("namespace", m.Namespace), slog.String("server", c.ServerInfo().Name))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	for _, d := range topo.Resources {
		var wopts []fsresources.Option
		if d.BaseURI != "" {
			wopts = append(wopts, fsresources.WithBaseURI(d.BaseURI))
		}
		w, err := fsresources.New(reg, d.Namespace, d.Path, append(wopts, fsresources.WithLogger(log))...)
		if err != nil {
			return fmt.Errorf("resources %q: %w", d.Path, err)
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	switch cmd.String("transport") {
	case "stdio":
		g.Go(func() error {
			// The session ending on stdin EOF ends the process.
			defer cancel()
			err := srv.Serve(gctx, stdio.New(
				stdio.WithLogger(log),
				stdio.WithUserProvider(stdio.EnvUserProvider{Var: "MCPHUB_USER"}),
			))
			if errors.Is(err, server.ErrServerClosed) {
				return nil
			}
			return err
		})
	case "http":
		if err := serveHTTP(gctx, g, srv, env, topo.Auth, log); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown transport %q", cmd.String("transport"))
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveHTTP(ctx context.Context, g *errgroup.Group, srv *server.Server, env config.Env, ac *config.AuthConfig, log *slog.Logger) error {
	ln, err := net.Listen("tcp", env.ListenAddr)
	if err != nil {
		return err
	}
	public := env.PublicURL
	if public == "" {
		public = "http://" + ln.Addr().String() + "/mcp"
	}

	hopts := []streaminghttp.Option{streaminghttp.WithLogger(log)}
	if ac != nil {
		authn, err := auth.NewJWT(ctx, ac.SecurityConfig())
		if err != nil {
			_ = ln.Close()
			return err
		}
		hopts = append(hopts, streaminghttp.WithAuthenticator(authn), streaminghttp.WithRealm(ac.Realm))
	}
	h, err := streaminghttp.New(public, hopts...)
	if err != nil {
		_ = ln.Close()
		return err
	}

	hs := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		log.InfoContext(ctx, "http.listen", slog.String("addr", ln.Addr().String()), slog.String("endpoint", public))
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return srv.ServeListener(ctx, h) })
	g.Go(func() error {
		<-ctx.Done()
		_ = h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
	return nil
}
