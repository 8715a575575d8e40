// Package trackerd composes the Persistence Gateway, Active Peer Table,
// Session Manager, File Index, Reaper, and the trackerapi HTTP server into
// one running tracker process (spec §4.10).
package trackerd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/anton-mishchenko/p2p-tracker/internal/config"
	"github.com/anton-mishchenko/p2p-tracker/internal/fileindex"
	"github.com/anton-mishchenko/p2p-tracker/internal/peertable"
	"github.com/anton-mishchenko/p2p-tracker/internal/reaper"
	"github.com/anton-mishchenko/p2p-tracker/internal/session"
	"github.com/anton-mishchenko/p2p-tracker/internal/storage"
	"github.com/anton-mishchenko/p2p-tracker/internal/trackerapi"
)

// Run opens storage, constructs the Active Peer Table and every component
// layered on it, starts the Reaper, and serves the trackerapi HTTP surface
// until ctx is cancelled. The Active Peer Table is constructed from
// cfg.MaxUsers before the HTTP listener starts, and the API's Ready gate
// always reports true, so this daemon never answers NOT_READY.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.Open(ctx, storage.Options{Path: cfg.Storage.URL, Logger: logger})
	if err != nil {
		return fmt.Errorf("trackerd: open storage: %w", err)
	}
	defer store.Close()

	table := peertable.New(cfg.MaxUsers)
	sessions := session.New(table, store, logger)
	files := fileindex.New(table, store, 10, logger)

	r := reaper.New(table, reaper.Options{
		Interval: cfg.ReaperInterval(),
		Timeout:  cfg.ReaperTimeout(),
		Logger:   logger,
	})
	go r.Run()
	defer r.Stop()

	limiter := trackerapi.NewLoginLimiter(10, time.Minute)
	defer limiter.Stop()

	api := &trackerapi.Server{
		Sessions: sessions,
		Files:    files,
		Logger:   logger,
		Limiter:  limiter,
		Ready:    func() bool { return true },
	}

	addr := net.JoinHostPort(cfg.HTTP.Bind, strconv.Itoa(cfg.HTTP.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("trackerd: listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return <-errCh
	case err := <-errCh:
		return err
	}
}
