package storage

import (
	"context"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// TestOpenMigratesAndReportsHealthy confirms a fresh store opens clean and
// reports healthy immediately.
func TestOpenMigratesAndReportsHealthy(t *testing.T) {
	d := openTest(t)
	if !d.Healthy() {
		t.Fatalf("expected store to report healthy after Open")
	}
}

// TestGuardedOperationsFailFastWhenUnhealthy exercises the ErrUnavailable
// fast path without a real connection loss: flipping the atomic flag
// directly is equivalent from every query's point of view, since guard()
// is the only thing consulting it.
func TestGuardedOperationsFailFastWhenUnhealthy(t *testing.T) {
	d := openTest(t)
	d.healthy.Store(false)

	if _, _, err := d.FetchUser(context.Background(), "alice"); err != ErrUnavailable {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := d.InsertUser(context.Background(), "alice", "hash", "", 0); err != ErrUnavailable {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

// TestProbeLossFlipsHealthyUntilPingSucceeds replays the probe's transitions
// by hand against a sqlmock connection: the first mocked ping fails, the
// healthy flag is cleared as the probe would, and a guarded call then fails
// with ErrUnavailable (which callers surface as the ERROR tag); the second
// mocked ping succeeds and the flag is set back.
func TestProbeLossFlipsHealthyUntilPingSucceeds(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer mockDB.Close()

	mock.ExpectPing().WillReturnError(context.DeadlineExceeded)
	mock.ExpectPing().WillReturnError(nil)

	d := &DB{sql: mockDB, logger: slog.New(slog.NewTextHandler(discard{}, nil)), stopCh: make(chan struct{})}
	d.healthy.Store(true)
	defer close(d.stopCh)

	if err := d.ping(context.Background()); err == nil {
		t.Fatalf("expected the first mocked ping to fail")
	}
	d.healthy.Store(false)

	if _, _, err := d.FetchUser(context.Background(), "alice"); err != ErrUnavailable {
		t.Fatalf("expected ErrUnavailable while unhealthy, got %v", err)
	}

	if err := d.ping(context.Background()); err != nil {
		t.Fatalf("expected the second mocked ping to succeed, got %v", err)
	}
	d.healthy.Store(true)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
