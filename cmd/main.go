// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/absmach/mobex"
	"github.com/absmach/mobex/examples/simple"
	"github.com/absmach/mobex/pkg/bearer/packet"
	"github.com/absmach/mobex/pkg/bearer/stream"
	"github.com/absmach/mobex/pkg/goep"
	"github.com/absmach/mobex/pkg/health"
	"github.com/absmach/mobex/pkg/metrics"
	"github.com/absmach/mobex/pkg/ratelimit"
	"github.com/absmach/mobex/pkg/runloop"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix     = "MOBEX_"
	pruneInterval = time.Minute
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mobex",
		Short:        "OBEX object server over stream and packet bearers",
		SilenceUsage: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(pushCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func serveCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the object store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil {
				slog.Warn("no .env file found, using environment variables", slog.String("file", envFile))
			}
			cfg, err := mobex.NewConfig(env.Options{Prefix: envPrefix})
			if err != nil {
				return fmt.Errorf("failed to parse config: %w", err)
			}
			logger := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

			if err := serve(cmd.Context(), cfg, logger); err != nil {
				logger.Error(fmt.Sprintf("mobex service terminated with error: %s", err))
				return err
			}
			logger.Info("mobex service stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&envFile, "env-file", "e", ".env", "Environment file to load")
	return cmd
}

func pushCmd() *cobra.Command {
	var (
		addr    string
		service uint16
		packetB bool
		mtu     int
		name    string
		typ     string
		target  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "push <file>",
		Short: "Push a file to an object store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(args[0])
			}
			var tgt uuid.UUID
			if target != "" {
				if tgt, err = uuid.Parse(target); err != nil {
					return fmt.Errorf("invalid target: %w", err)
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			kind := goep.Stream
			if packetB {
				kind = goep.Packet
			}
			obj := simple.Object{Name: name, Type: typ, Data: data}
			return push(ctx, kind, addr, service, mtu, tgt, obj, newLogger(cmd.ErrOrStderr(), "info", "text"))
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "localhost:6500", "Server address")
	cmd.Flags().Uint16VarP(&service, "service", "s", 9, "Channel, or PSM with --packet")
	cmd.Flags().BoolVarP(&packetB, "packet", "p", false, "Use the packet bearer")
	cmd.Flags().IntVarP(&mtu, "mtu", "m", 32767, "Largest packet to receive")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Object name (default: file base name)")
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Object type")
	cmd.Flags().StringVar(&target, "target", "", "Target UUID sent in CONNECT")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	return cmd
}

func push(ctx context.Context, kind goep.BearerKind, addr string, service uint16, mtu int, target uuid.UUID, obj simple.Object, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := runloop.New(logger)
	go func() {
		_ = loop.Run(ctx)
	}()

	var client *goep.Client
	switch kind {
	case goep.Packet:
		b := packet.New(packet.Config{Logger: logger}, loop)
		defer b.Close()
		client = goep.NewClient(goep.Config{Logger: logger}, nil, b)
	default:
		b := stream.New(stream.Config{Logger: logger}, loop)
		defer b.Close()
		client = goep.NewClient(goep.Config{Logger: logger}, b, nil)
	}

	p := simple.NewPush(client, target, obj, logger)
	if err := loop.Do(ctx, func(context.Context) error {
		return p.Start(kind, addr, service, mtu)
	}); err != nil {
		return err
	}
	return p.Wait(ctx)
}

func serve(ctx context.Context, cfg mobex.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	m := metrics.New("mobex")
	loop := runloop.New(logger)
	g.Go(func() error {
		return loop.Run(ctx)
	})

	streamBearer := stream.New(stream.Config{
		Address:         cfg.StreamAddress,
		MaxFrameSize:    cfg.MaxFrameSize,
		AcceptTimeout:   cfg.AcceptTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	}, loop)

	// A nil *packet.Bearer must not reach goep as a non-nil interface.
	var packetBearer *packet.Bearer
	var packetGoep goep.Bearer
	if cfg.PSM != 0 {
		packetBearer = packet.New(packet.Config{
			Address:         cfg.PacketAddress,
			Path:            cfg.PacketPath,
			MaxMessageSize:  cfg.PSMMTU,
			AcceptTimeout:   cfg.AcceptTimeout,
			ShutdownTimeout: cfg.ShutdownTimeout,
			Logger:          logger,
		}, loop)
		packetGoep = packetBearer
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.RateLimitPeers)
	srv := goep.NewServer(goep.Config{
		Logger:           logger,
		Metrics:          m,
		PacketBufferSize: cfg.PacketBufferSize,
		Admission:        hostAdmitter{limiter},
	}, streamBearer, packetGoep)

	profile := simple.New(srv, simple.Config{
		Target:        cfg.Target,
		MaxObjectSize: cfg.MaxObjectSize,
		Logger:        logger,
		Metrics:       m,
	})
	register := func(context.Context) error {
		return srv.RegisterService(profile, cfg.Channel, cfg.ChannelMTU, cfg.PSM, cfg.PSMMTU, goep.SecurityNone)
	}
	if err := loop.Do(ctx, register); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	g.Go(func() error {
		return streamBearer.Listen(ctx)
	})
	if packetBearer != nil {
		g.Go(func() error {
			return packetBearer.Listen(ctx)
		})
	}

	checker := health.NewChecker(cfg.HealthTTL)
	checker.Register("run_loop", true, health.Running(loop.Done()))
	checker.Register("stream_bearer", true, health.Listening(streamBearer.Addr))
	if packetBearer != nil {
		checker.Register("packet_bearer", true, health.Listening(packetBearer.Addr))
	}
	checker.Register("sessions", false, health.Below(func() int {
		var n int
		_ = loop.Do(ctx, func(context.Context) error {
			n = srv.Sessions()
			return nil
		})
		return n
	}, cfg.MaxSessions))

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("HTTP server started", slog.String("address", cfg.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stop()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return pruneLimiter(ctx, limiter, pruneInterval, logger)
	})

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	return g.Wait()
}

// hostAdmitter rate limits by host so that every connection from one peer
// draws from the same bucket.
type hostAdmitter struct {
	limiter *ratelimit.Limiter
}

func (a hostAdmitter) Allow(peer string) bool {
	host, _, err := net.SplitHostPort(peer)
	if err != nil {
		host = peer
	}
	return a.limiter.Allow(host)
}

func pruneLimiter(ctx context.Context, l *ratelimit.Limiter, every time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Prune(); n > 0 {
				logger.Debug("pruned idle rate limit buckets", slog.Int("count", n))
			}
		}
	}
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// StopSignalHandler cancels ctx on SIGINT, SIGTERM or SIGABRT.
func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
