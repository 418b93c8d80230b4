// Command recyclerd runs a small demo daemon around pkg/recycler: it pools
// *bytebufferpool.ByteBuffer scratch buffers, serves /echo, /debug/pool and
// /healthz over both net/http and fasthttp and /metrics over net/http, and
// logs a periodic pool status line on a cron schedule.
package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"objpool/internal/app"
	"objpool/pkg/config"
	"objpool/pkg/logger"
	"objpool/pkg/shutdown"
)

func main() {
	var (
		version   = "dev"
		commit    = "none"
		buildDate = "unknown"
	)

	addr := flag.String("addr", ":8080", "net/http listen address")
	fastAddr := flag.String("fast-addr", ":8081", "fasthttp listen address (empty disables it)")
	baseDir := flag.String("base-dir", "./data", "base directory for runtime state (logs, crash dumps)")
	flags := config.ParseConfigFlags()

	cfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		log.Fatalf("failed to load config file: %v", err)
	}
	cfg, err = config.LoadEffectiveConfig(flags)
	if err != nil {
		log.Fatalf("failed to build effective config: %v", err)
	}

	logger.Init(cfg.Logging.Level)

	var srcs []string
	if fileExists {
		srcs = append(srcs, "file")
	}
	srcs = append(srcs, "env")

	a, err := app.New(cfg, *baseDir, *addr, *fastAddr, version, commit, buildDate, strings.Join(srcs, ", "))
	if err != nil {
		shutdown.Abort("failed to initialize app", err, *baseDir)
		return
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logger.Error("server_exit_error", "error", err)
		_ = a.Shutdown(ctx)
		shutdown.Abort("server exited with error", err, *baseDir)
		return
	}

	_ = a.Shutdown(ctx)
}
