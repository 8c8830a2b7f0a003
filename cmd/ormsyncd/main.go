// Command ormsyncd runs the sync server (spec §6): the authoritative
// side local clients push mutation batches to and pull from. Grounded on
// the teacher's cmd/td-sync/main.go signal-handling and graceful
// shutdown sequence, adapted from internal/api.Server +
// internal/serverdb.ServerDB to internal/syncserver.Server, which owns
// its own per-database SQLite files directly rather than a separate
// server-identity store.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/marcus/ormsync/internal/ormconfig"
	"github.com/marcus/ormsync/internal/ormlog"
	"github.com/marcus/ormsync/internal/syncserver"
)

func main() {
	cfg := ormconfig.LoadServerConfig()
	logger := ormlog.New(cfg.LogFormat, cfg.LogLevel)

	srvCfg := syncserver.Config{
		ListenAddr:     cfg.ListenAddr,
		DataDir:        cfg.ServerDBPath,
		APIKeys:        loadAPIKeys(),
		RateLimitPush:  cfg.RateLimitPush,
		RateLimitPull:  cfg.RateLimitPull,
		RateLimitOther: cfg.RateLimitOther,
	}

	srv := syncserver.NewServer(srvCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		logger.Error("start server", "err", err)
		os.Exit(1)
	}
	logger.Info("server started", "addr", cfg.ListenAddr, "data_dir", cfg.ServerDBPath)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

// loadAPIKeys reads ORMSYNC_API_KEYS as a comma-separated list of valid
// bearer tokens. An empty result disables auth, for local/dev runs.
func loadAPIKeys() map[string]bool {
	v := os.Getenv("ORMSYNC_API_KEYS")
	if v == "" {
		return nil
	}
	keys := make(map[string]bool)
	for _, k := range strings.Split(v, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			keys[k] = true
		}
	}
	return keys
}
