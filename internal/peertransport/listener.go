// Package peertransport implements the Peer Listener, Peer Sender, and
// Peer Downloader: the per-peer file transfer transport described in spec
// §4.6–4.8, grounded on original_source/serviceClient/FileTransferHandler.java's
// wire semantics.
package peertransport

import (
	"log/slog"
	"net"

	"github.com/spf13/afero"
)

// Listener owns a bound TCP endpoint and hands each accepted connection to
// a new Sender goroutine (spec §4.6).
type Listener struct {
	ln     net.Listener
	fs     afero.Fs
	logger *slog.Logger
	closed chan struct{}
}

// Listen binds addr and returns a Listener ready to Serve. fs is the
// filesystem Sender reads from; pass afero.NewOsFs() in production.
func Listen(addr string, fs afero.Fs, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, fs: fs, logger: logger, closed: make(chan struct{})}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections indefinitely, dispatching each to its own
// goroutine running Sender.Serve, until Close is called. Accept errors
// while the listener remains open are logged and looped over, per spec
// §4.6; the terminal error produced by Close ends the loop silently.
func (l *Listener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
			}
			l.logger.Error("peertransport: accept failed", "error", err)
			continue
		}
		sender := &Sender{fs: l.fs, logger: l.logger}
		go sender.Serve(conn)
	}
}

// Close causes Serve's Accept call to return a terminal error and ends the
// accept loop, per spec §4.6's "close signal causes accept to return with
// a terminal error."
func (l *Listener) Close() error {
	close(l.closed)
	return l.ln.Close()
}
