package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	go2tvadapters "go2tv.app/plexcast/internal/adapters/go2tv"
	"go2tv.app/plexcast/internal/buildinfo"
	"go2tv.app/plexcast/internal/config"
	"go2tv.app/plexcast/internal/diagnostics"
	"go2tv.app/plexcast/internal/discovery"
	"go2tv.app/plexcast/internal/domain"
	"go2tv.app/plexcast/internal/httpapi"
	"go2tv.app/plexcast/internal/lifecycle"
	"go2tv.app/plexcast/internal/mcpserver"
	"go2tv.app/plexcast/internal/metrics"
	"go2tv.app/plexcast/internal/session"
)

const serverName = "plexcast"

type selfTestOutput struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
	Go2TVAdapters struct {
		DiscoveryWired bool `json:"discovery_wired"`
		CastWired      bool `json:"cast_wired"`
	} `json:"go2tv_adapters"`
	Receiver *domain.Receiver         `json:"receiver,omitempty"`
	Probe    *diagnostics.ProbeResult `json:"probe,omitempty"`
}

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	device := flag.String("device", cfg.Device, "receiver id or name to control (resolved through discovery)")
	addr := flag.String("addr", cfg.Addr, "receiver host[:port]; skips discovery")
	httpAddr := flag.String("http", cfg.HTTPAddr, "listen address for the HTTP control API; empty disables it")
	list := flag.Bool("list", false, "list discovered receivers and exit")
	selfTest := flag.Bool("self-test", false, "check adapter wiring and receiver reachability then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}

	runCtx, stopSignals := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stopSignals()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	bundle := go2tvadapters.NewBundle()
	discoverySvc := discovery.NewService(bundle.Discovery, runCtx)

	if *list {
		if err := printReceivers(runCtx, discoverySvc, cfg.DiscoveryTimeoutMS); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if *selfTest {
		out := selfTestOutput{}
		out.Server.Name = serverName
		out.Server.Version = buildinfo.Version
		out.Go2TVAdapters.DiscoveryWired = bundle.Discovery != nil
		out.Go2TVAdapters.CastWired = bundle.ConnFactory != nil
		if *device != "" || *addr != "" {
			if target, err := resolveReceiver(runCtx, discoverySvc, *device, *addr, cfg.DiscoveryTimeoutMS); err == nil {
				probe := diagnostics.ProbeReceiver(target.Host, target.Port, 2*time.Second)
				out.Receiver = &target
				out.Probe = &probe
			} else {
				out.Probe = &diagnostics.ProbeResult{Error: err.Error()}
			}
		}
		if err := writeJSON(out); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger.Info(
		"plexcast_start",
		slog.String("version", buildinfo.Version),
		slog.String("log_level", cfg.LogLevel.String()),
	)

	if err := run(runCtx, logger, cfg, bundle, discoverySvc, *device, *addr, *httpAddr); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("plexcast_stopped", slog.String("error", err.Error()))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Info("plexcast_stopped")
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config, bundle go2tvadapters.Bundle, discoverySvc *discovery.Service, device, addr, httpAddr string) error {
	target, err := resolveReceiver(ctx, discoverySvc, device, addr, cfg.DiscoveryTimeoutMS)
	if err != nil {
		return err
	}
	logger.Info(
		"receiver_selected",
		slog.String("id", target.ID),
		slog.String("name", target.Name),
		slog.String("host", target.Host),
		slog.Int("port", target.Port),
	)

	met := metrics.New()
	sess, err := session.Open(ctx, bundle.ConnFactory, target.Host, target.Port, session.Config{
		Logger:                   logger,
		Metrics:                  met,
		LaunchTimeout:            cfg.LaunchTimeout,
		StatusTimeout:            cfg.StatusTimeout,
		ThreadRequestID:          cfg.ThreadRequestID,
		RejectDuplicateListeners: cfg.RejectDuplicateListeners,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("session_close_failed", slog.String("error", err.Error()))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})

	mcp := mcpserver.New(os.Stdin, os.Stdout, mcpserver.Config{
		ServerName:     serverName,
		ServerVersion:  buildinfo.Version,
		Logger:         logger,
		ReceiverLister: discoverySvc,
		Remote:         sess.Controller,
	})
	g.Go(func() error {
		// A blocked stdin read does not observe gctx, so the server runs
		// detached and is abandoned on shutdown.
		mcpErr := make(chan error, 1)
		go func() {
			mcpErr <- mcp.Run(gctx)
		}()

		select {
		case err := <-mcpErr:
			if err != nil {
				return err
			}
			// EOF on stdin ends the session unless the HTTP API keeps it alive.
			if httpAddr == "" {
				return context.Canceled
			}
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	if httpAddr != "" {
		srv := &http.Server{
			Addr:              httpAddr,
			Handler:           httpapi.NewHandler(sess.Controller, logger, met).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			return lifecycle.ServeHTTP(gctx, srv, logger)
		})
	}

	return g.Wait()
}

func resolveReceiver(ctx context.Context, svc *discovery.Service, device, addr string, timeoutMS int) (domain.Receiver, error) {
	if addr != "" {
		host, port, err := discovery.SplitAddress(addr)
		if err != nil {
			return domain.Receiver{}, err
		}
		return domain.Receiver{Name: addr, Address: addr, Host: host, Port: port}, nil
	}
	if device == "" {
		return domain.Receiver{}, errors.New("no receiver selected: pass -device or -addr (or set PLEXCAST_DEVICE / PLEXCAST_ADDR)")
	}
	return svc.Resolve(ctx, device, timeoutMS)
}

func printReceivers(ctx context.Context, svc *discovery.Service, timeoutMS int) error {
	receivers, err := svc.ListReceivers(ctx, timeoutMS, false)
	if err != nil {
		return err
	}
	return writeJSON(map[string]any{
		"count":     len(receivers),
		"receivers": receivers,
	})
}

func writeJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
