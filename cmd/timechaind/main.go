// Command timechaind is a minimal composition root demonstrating how the
// header timechain and its sidecar family are assembled by an embedder. It
// is not a protocol node (the wire, script, and persistence layers live
// elsewhere), just the load-config/build-logger/wire-metrics/construct-core/
// block-on-signal sequence a real node wraps around the core.
//
// Usage:
//
//	timechaind [flags]
//
// Flags:
//
//	-config    Path to a YAML config file (optional; built-in defaults apply)
//	-version   Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hornetd/timechain/pkg/chainhash"
	"github.com/hornetd/timechain/pkg/chainlog"
	"github.com/hornetd/timechain/pkg/config"
	"github.com/hornetd/timechain/pkg/metrics"
	"github.com/hornetd/timechain/pkg/timechain"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code so the binary can
// be exercised from tests without calling os.Exit directly.
func run(args []string) int {
	fs := flag.NewFlagSet("timechaind", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *showVersion {
		fmt.Printf("timechaind %s (commit %s)\n", version, commit)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "timechaind: config: %v\n", err)
		return 1
	}

	logger := chainlog.New(parseLevel(cfg.LogLevel))
	if cfg.LogFile != "" {
		logger = chainlog.NewTee(cfg.LogFile, 0, 5, parseLevel(cfg.LogLevel))
	}
	chainlog.SetDefault(logger)
	log := logger.Module("cmd")

	log.Info("timechaind starting",
		"version", version,
		"network", cfg.Network,
		"magic", fmt.Sprintf("0x%08X", cfg.Magic()),
		"max_search_depth", cfg.MaxSearchDepth,
		"max_keep_depth", cfg.MaxKeepDepth,
		"metrics_listen_addr", cfg.MetricsListenAddr,
	)

	reg := metrics.NewRegistry()

	tc := timechain.New(
		genesisContext(),
		timechain.WithMaxSearchDepth(cfg.MaxSearchDepth),
		timechain.WithMaxKeepDepth(cfg.MaxKeepDepth),
		timechain.WithMetrics(reg),
	)
	log.Info("timechain constructed", "chain_len", tc.Len())

	var srv *http.Server
	if cfg.MetricsListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.NewHTTPHandler())
		srv = &http.Server{Addr: cfg.MetricsListenAddr, Handler: mux}
		go func() {
			log.Info("metrics listener starting", "addr", cfg.MetricsListenAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics listener failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal, shutting down", "signal", sig.String())

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("metrics listener shutdown error", "error", err)
		}
	}

	log.Info("shutdown complete")
	return 0
}

// genesisContext builds the HeaderContext this composition root seeds the
// timechain with. A real embedder would inject a validated genesis header
// from the configured network's parameters; this demonstration node uses a
// fixed placeholder hash (0x01 followed by zero bytes) with zero work, since
// header validation and hashing are explicitly out of scope for the core.
func genesisContext() timechain.HeaderContext {
	return timechain.HeaderContext{
		Header: genesisHeader{ts: time.Now().Unix()},
		Hash:   chainhash.Hash{0x01},
		Height: 0,
	}
}

// genesisHeader satisfies timechain.Header for the demonstration genesis
// block constructed above.
type genesisHeader struct {
	ts int64
}

func (h genesisHeader) PreviousHash() chainhash.Hash { return chainhash.Zero }
func (h genesisHeader) Timestamp() int64             { return h.ts }

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
