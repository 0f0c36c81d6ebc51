package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vehicheck/internal/adapter"
	"vehicheck/internal/browser"
	"vehicheck/internal/check"
	"vehicheck/internal/config"
	"vehicheck/internal/logger"
	"vehicheck/internal/session"
	"vehicheck/internal/storage"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to yaml config")
		addr    = flag.String("addr", ":8080", "listen address")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.Log.File,
	})

	var snaps check.Snapshotter
	if cfg.Snapshot.Enabled {
		store, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, cfg.Snapshot.Dir, log)
		if err != nil {
			log.Err(err, "snapshot store unavailable, continuing without")
		} else {
			snaps = store
		}
	}

	launcher := browser.NewLauncher(cfg.Browser, log)
	sessions := session.NewManager(func(ctx context.Context) (session.Handle, error) {
		b, err := launcher.Launch(ctx)
		if err != nil {
			return nil, err
		}
		return b, nil
	}, log)

	svc := check.New(cfg, sessions,
		adapter.NewInspection(cfg.Inspection, log),
		[]check.Runner{
			adapter.NewInsurance(cfg.Insurance, log),
			adapter.NewVignette(cfg.Vignette, log),
			adapter.NewFines(cfg.Fines, log),
		},
		snaps, log)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newRouter(svc, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Err(err, "server stopped")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	log.Info("shut down")
}
