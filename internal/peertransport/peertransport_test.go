package peertransport

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestRoundTripDownloadsExistingFile exercises the full Listener/Sender to
// Downloader path against a real TCP loopback connection.
func TestRoundTripDownloadsExistingFile(t *testing.T) {
	senderFS := afero.NewMemMapFs()
	if err := afero.WriteFile(senderFS, "/shared/song.mp3", []byte("some bytes to stream across the wire"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	ln, err := Listen("127.0.0.1:0", senderFS, discardLogger())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go ln.Serve()

	host, port := splitAddr(t, ln.Addr().String())

	dlFS := afero.NewMemMapFs()
	dl := NewDownloader(dlFS)
	if err := dl.Download(host, port, "/shared/song.mp3", "song", "mp3", 37, nil); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := afero.ReadFile(dlFS, "song.mp3")
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != "some bytes to stream across the wire" {
		t.Fatalf("unexpected contents: %q", got)
	}
}

// TestDownloadMissingFileReturnsPeer404AndCleansUp covers the 404 sentinel
// detection and partial-file cleanup.
func TestDownloadMissingFileReturnsPeer404AndCleansUp(t *testing.T) {
	senderFS := afero.NewMemMapFs()
	ln, err := Listen("127.0.0.1:0", senderFS, discardLogger())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go ln.Serve()

	host, port := splitAddr(t, ln.Addr().String())

	dlFS := afero.NewMemMapFs()
	dl := NewDownloader(dlFS)
	err = dl.Download(host, port, "/shared/missing.bin", "missing", "bin", 100, nil)
	if err != ErrPeer404 {
		t.Fatalf("expected ErrPeer404, got %v", err)
	}
	if exists, _ := afero.Exists(dlFS, "missing.bin"); exists {
		t.Fatalf("expected the partial file to be removed")
	}
}

// TestChooseLocalNameResolvesCollisions covers the (1)..(1000) naming
// scheme from spec §4.8.
func TestChooseLocalNameResolvesCollisions(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "report.pdf", []byte("x"), 0o644)
	_ = afero.WriteFile(fs, "report(1).pdf", []byte("x"), 0o644)

	dl := NewDownloader(fs)
	name, err := dl.chooseLocalName("report", "pdf")
	if err != nil {
		t.Fatalf("chooseLocalName: %v", err)
	}
	if name != "report(2).pdf" {
		t.Fatalf("expected report(2).pdf, got %q", name)
	}
}

// TestParseGETLine confirms the narrow %20<->space reversal.
func TestParseGETLine(t *testing.T) {
	path, ok := parseGETLine("GET /my%20files/song.mp3\n")
	if !ok {
		t.Fatalf("expected a valid parse")
	}
	if path != "/my files/song.mp3" {
		t.Fatalf("unexpected path: %q", path)
	}
}

// TestStreamSurvivesSlowTransferLongerThanConnectTimeout proves the read
// deadline resets on every chunk rather than capping the whole transfer:
// the server below paces its writes so no single gap exceeds the shrunk
// ConnectTimeout, but their sum comfortably does.
func TestStreamSurvivesSlowTransferLongerThanConnectTimeout(t *testing.T) {
	old := ConnectTimeout
	ConnectTimeout = 60 * time.Millisecond
	defer func() { ConnectTimeout = old }()

	raw, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer raw.Close()

	chunks := [][]byte{[]byte("one-"), []byte("two-"), []byte("three-"), []byte("four-"), []byte("five")}
	want := "one-two-three-four-five"

	go func() {
		conn, err := raw.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		_, _ = conn.Read(buf) // discard the GET request line
		for _, c := range chunks {
			time.Sleep(30 * time.Millisecond)
			if _, err := conn.Write(c); err != nil {
				return
			}
		}
	}()

	host, port := splitAddr(t, raw.Addr().String())

	dlFS := afero.NewMemMapFs()
	dl := NewDownloader(dlFS)
	if err := dl.Download(host, port, "/shared/slow.txt", "slow", "txt", int64(len(want)), nil); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := afero.ReadFile(dlFS, "slow.txt")
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != want {
		t.Fatalf("unexpected contents: %q", got)
	}
}

// TestDownloadTimesOutOnStalledPeerAndCleansUp confirms a peer that stops
// sending mid-transfer still trips the idle-read deadline (rather than
// hanging forever) and that the partial file is removed.
func TestDownloadTimesOutOnStalledPeerAndCleansUp(t *testing.T) {
	old := ConnectTimeout
	ConnectTimeout = 30 * time.Millisecond
	defer func() { ConnectTimeout = old }()

	raw, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer raw.Close()

	go func() {
		conn, err := raw.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		_, _ = conn.Read(buf) // discard the GET request line
		_, _ = conn.Write([]byte("partial"))
		time.Sleep(500 * time.Millisecond) // far longer than ConnectTimeout: stall
	}()

	host, port := splitAddr(t, raw.Addr().String())

	dlFS := afero.NewMemMapFs()
	dl := NewDownloader(dlFS)
	err = dl.Download(host, port, "/shared/stalled.txt", "stalled", "txt", 100, nil)
	if err == nil {
		t.Fatalf("expected a timeout error, got nil")
	}
	if exists, _ := afero.Exists(dlFS, "stalled.txt"); exists {
		t.Fatalf("expected the partial file to be removed")
	}
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %q: %v", portStr, err)
	}
	return host, port
}
