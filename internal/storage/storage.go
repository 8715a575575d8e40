package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"
)

// ErrUnavailable is returned by every operation while the store is known
// to be unreachable. The Session Manager and File Index surface it as the
// ERROR outcome tag; it is never wrapped in a SQL-specific error type.
var ErrUnavailable = errors.New("storage: unavailable")

// DB is the Persistence Gateway. A single *sql.DB with SetMaxOpenConns(1)
// is the literal mechanism that serializes all operations against one
// another: the driver's connection pool doubles as the process-wide mutex
// called for in spec.
type DB struct {
	sql     *sql.DB
	logger  *slog.Logger
	healthy atomic.Bool
	stopCh  chan struct{}
}

// Options configures Open.
type Options struct {
	Path          string
	Logger        *slog.Logger
	ProbeInterval time.Duration
}

// Open establishes the storage connection, applies pragmas, runs pending
// migrations, and starts the background health probe described in spec
// §4.1/§5 ("Connection health is maintained by a background probe that,
// on detected loss, attempts re-establishment").
func Open(ctx context.Context, opt Options) (*DB, error) {
	if opt.Path == "" {
		return nil, errors.New("storage path is required")
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opt.ProbeInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", opt.Path)
	s, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	s.SetMaxOpenConns(1)
	s.SetMaxIdleConns(1)
	s.SetConnMaxLifetime(0)

	d := &DB{sql: s, logger: logger, stopCh: make(chan struct{})}
	if err := d.ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := d.setPragmas(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := Migrate(ctx, s); err != nil {
		_ = s.Close()
		return nil, err
	}
	d.healthy.Store(true)

	go d.probeLoop(interval)
	return d, nil
}

// Close stops the health probe and releases the underlying connection.
func (d *DB) Close() error {
	close(d.stopCh)
	return d.sql.Close()
}

// Healthy reports whether the last probe succeeded.
func (d *DB) Healthy() bool {
	return d.healthy.Load()
}

func (d *DB) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return d.sql.PingContext(ctx)
}

func (d *DB) setPragmas(ctx context.Context) error {
	if _, err := d.sql.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return err
	}
	_, err := d.sql.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	return err
}

// probeLoop periodically pings the store. On failure it flips healthy to
// false (every gateway operation then fails fast with ErrUnavailable) and
// retries re-establishment with exponential backoff; on the first success
// after a failure it flips healthy back to true and returns to the fixed
// probe interval.
func (d *DB) probeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.ping(context.Background()); err != nil {
				d.handleLoss()
			}
		}
	}
}

func (d *DB) handleLoss() {
	d.healthy.Store(false)
	d.logger.Warn("storage connection lost, attempting reconnect")

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // retry until stopCh fires or ping succeeds

	_ = backoff.Retry(func() error {
		select {
		case <-d.stopCh:
			return nil
		default:
		}
		err := d.ping(context.Background())
		if err != nil {
			d.logger.Warn("storage reconnect attempt failed", "error", err)
		}
		return err
	}, b)

	select {
	case <-d.stopCh:
		return
	default:
	}
	d.healthy.Store(true)
	d.logger.Info("storage connection re-established")
}

// guard fails fast with ErrUnavailable while the store is known unreachable,
// instead of letting a doomed query block on the driver.
func (d *DB) guard() error {
	if !d.healthy.Load() {
		return ErrUnavailable
	}
	return nil
}
