// Command chronicle-hook is Chronicle's single hook binary (spec §6.2):
// the host invokes it once per lifecycle event, passing a JSON payload
// on stdin, and the installer points every event type's hook entry at
// this same executable — hookrt.Run dispatches on the payload's
// hook_event_name rather than on argv, so there is nothing event-type
// specific about the binary itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anthropics/chronicle/internal/config"
	"github.com/anthropics/chronicle/internal/hookrt"
	"github.com/anthropics/chronicle/internal/logging"
	"github.com/anthropics/chronicle/internal/store"
)

// terminationGrace is how long run waits after SIGTERM or SIGINT, once
// hookrt.Run has returned, before exiting. The signal cancels the
// context passed to hookrt.Run, so writes still in flight when it
// arrives are canceled; they are not given this window to finish.
const terminationGrace = 50 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	installDir := flag.String("install-dir", defaultInstallDir(), "Chronicle install directory")
	flag.Parse()

	cfg, err := config.Load(*installDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chronicle-hook: config error: %v\n", err)
		return 1
	}

	log, err := logging.New(*installDir, cfg.LogLevel, cfg.LogSilent)
	if err != nil {
		log = logging.Discard()
	}
	defer log.Close()

	writer, err := buildWriter(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("chronicle-hook: failed to initialize storage, proceeding without persistence")
	}
	if writer != nil {
		defer writer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	exitCode := hookrt.Run(ctx, os.Stdin, os.Stdout, cfg, writer, log.Component("hookrt"))

	select {
	case <-ctx.Done():
		time.Sleep(terminationGrace)
	default:
	}

	return exitCode
}

// buildWriter wires the dual-backend store from config: the local
// backend unless explicitly disabled, and the primary behind a circuit
// breaker when credentials are present (spec §4.1 — a primary URL
// without a key has already been degraded to local-only by config.Load).
func buildWriter(cfg *config.Config, log *logging.Logger) (*store.Writer, error) {
	var local *store.Local
	if cfg.LocalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.LocalPath), 0755); err != nil {
			return nil, fmt.Errorf("create local backend directory: %w", err)
		}
		l, err := store.OpenLocal(cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("open local backend: %w", err)
		}
		local = l
	}

	var guarded *store.Guarded
	if cfg.PrimaryURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		primary, err := store.OpenPrimary(ctx, cfg.PrimaryURL)
		if err != nil {
			log.Warn().Err(err).Msg("chronicle-hook: primary backend unavailable at startup, continuing local-only")
		} else {
			guarded = store.NewGuarded(primary)
		}
	}

	if guarded == nil && local == nil {
		return nil, fmt.Errorf("no backend available: primary unreachable and local disabled")
	}
	return store.NewWriter(guarded, local, log.Component("store")), nil
}

func defaultInstallDir() string {
	if v := os.Getenv("CHRONICLE_INSTALL_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chronicle"
	}
	return filepath.Join(home, ".chronicle")
}
