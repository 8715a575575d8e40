package trackerd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/anton-mishchenko/p2p-tracker/internal/config"
)

// TestRunServesAndShutsDownCleanly confirms the daemon answers a real RPC
// over HTTP and stops without error when its context is cancelled.
func TestRunServesAndShutsDownCleanly(t *testing.T) {
	cfg := config.Config{
		Storage:  config.StorageConfig{URL: t.TempDir() + "/tracker.db"},
		MaxUsers: 5,
		HTTP:     config.HTTPConfig{Bind: "127.0.0.1", Port: 18181},
		Reaper:   config.ReaperConfig{IntervalSeconds: 60, TimeoutSeconds: 120},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, logger) }()

	payload, _ := json.Marshal(map[string]any{"Name": "alice", "Password": "pw123456", "IP": "10.0.0.1", "Port": 1052})

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Post("http://127.0.0.1:18181/rpc/connect", "application/json", bytes.NewReader(payload))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("connect request never succeeded: %v", err)
	}
	defer resp.Body.Close()

	var reply []string
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply[0] != "NEW" {
		t.Fatalf("expected NEW, got %+v", reply)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error after shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop within the shutdown timeout")
	}
}
