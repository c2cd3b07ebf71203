// Command sans-forward is the DNS forwarder process: it starts the
// client-facing UDP/TCP listeners, the forwarder core, and the
// read-only admin HTTP surface, and runs until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sansdns/sans-forward/internal/admin"
	"github.com/sansdns/sans-forward/internal/config"
	"github.com/sansdns/sans-forward/internal/forwarder"
	"github.com/sansdns/sans-forward/internal/logging"
	"github.com/sansdns/sans-forward/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	debug      bool
	jsonLogs   bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.Parse()
	return f
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if flags.debug {
		cfg.Verbose = true
	}
	if flags.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}

	nodeID := admin.NewNodeID()
	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Verbose:          cfg.Verbose,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		NodeID:           nodeID,
	})

	logger.Info("sans-forward starting",
		"listen", cfg.Listen.String(),
		"probe", cfg.Probe.Server.String(),
		"cn_server", cfg.CNServer.String(),
		"trusted_server", cfg.TrustedServer.String(),
		"nspresolver", cfg.NSPResolver,
		"socks5", cfg.SOCKS5.Enabled(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stats := server.NewDNSStats()

	fwd, err := forwarder.New(cfg, logger, stats)
	if err != nil {
		return fmt.Errorf("building forwarder: %w", err)
	}

	limiter := server.NewRateLimiterFromEnv()
	udpListener := &server.UDPListener{Logger: logger, Limiter: limiter, OnQuery: fwd.OnQuery}
	tcpListener := &server.TCPListener{Logger: logger, OnQuery: fwd.OnQuery}

	var adminSrv *admin.Server
	if cfg.Admin.Enabled {
		adminSrv = admin.New(cfg, logger, stats, fwd.Cache, nodeID)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	runComponent := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error("component exited with error", "component", name, "err", err)
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		fwd.Run(ctx)
	}()

	runComponent("udp_listener", func() error { return udpListener.Run(ctx, cfg.Listen.String()) })
	runComponent("tcp_listener", func() error { return tcpListener.Run(ctx, cfg.Listen.String()) })

	if adminSrv != nil {
		logger.Info("admin surface starting", "addr", adminSrv.Addr())
		runComponent("admin", func() error { return adminSrv.Run(ctx) })
	}

	wg.Wait()
	close(errCh)

	logger.Info("sans-forward stopped")

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}
