package peertransport

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// ConnectTimeout bounds both the initial TCP connect and, separately, each
// individual read during the transfer (an idle-read timeout, not a total
// transfer deadline), per spec §4.8. A var, not a const, so tests can
// shrink it rather than waiting out the real 10s.
var ConnectTimeout = 10 * time.Second

// ProgressSink receives percent-complete updates during a download, the Go
// equivalent of the original's ProgressBar parameter.
type ProgressSink interface {
	Progress(percent int)
}

// noopProgress discards updates; used when the caller supplies none.
type noopProgress struct{}

func (noopProgress) Progress(int) {}

// ErrPeer404 is returned when the remote peer reports the file missing.
var ErrPeer404 = fmt.Errorf("peertransport: peer reported file not found")

// Downloader fetches a file from a single peer over a fresh TCP
// connection, per spec §4.8.
type Downloader struct {
	fs afero.Fs
}

// NewDownloader constructs a Downloader that writes into fs.
func NewDownloader(fs afero.Fs) *Downloader {
	return &Downloader{fs: fs}
}

// Download connects to (ip, port), requests remotePath, and writes the
// response to a locally unique file named fileName.fileType (resolving
// collisions per spec §4.8's (1)..(1000) scheme), reporting progress
// against expectedSize. On any I/O error the partial file is deleted.
func (d *Downloader) Download(ip string, port int, remotePath, fileName, fileType string, expectedSize int64, sink ProgressSink) error {
	if sink == nil {
		sink = noopProgress{}
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip, fmt.Sprintf("%d", port)), ConnectTimeout)
	if err != nil {
		return fmt.Errorf("peertransport: connect to peer: %w", err)
	}
	defer conn.Close()

	request := "GET " + strings.ReplaceAll(remotePath, " ", "%20") + "\n"
	if _, err := conn.Write([]byte(request)); err != nil {
		return fmt.Errorf("peertransport: send request: %w", err)
	}

	localName, err := d.chooseLocalName(fileName, fileType)
	if err != nil {
		return err
	}
	out, err := d.fs.OpenFile(localName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("peertransport: create local file: %w", err)
	}

	if err := d.stream(conn, out, localName, expectedSize, sink); err != nil {
		out.Close()
		_ = d.fs.Remove(localName)
		return err
	}
	return out.Close()
}

// stream reads the response in 1024-byte chunks. Each read gets its own
// deadline (spec §4.8's 10s figure is an idle-read timeout, matching the
// original's requestSocket.setSoTimeout(10000): a steadily-flowing
// transfer of any length never trips it, only a stalled peer does.
func (d *Downloader) stream(conn net.Conn, out afero.File, localName string, expectedSize int64, sink ProgressSink) error {
	buf := make([]byte, 1024)
	var written int64

	if err := conn.SetReadDeadline(time.Now().Add(ConnectTimeout)); err != nil {
		return fmt.Errorf("peertransport: set read deadline: %w", err)
	}
	n, err := conn.Read(buf)
	if n > 0 {
		if strings.Contains(string(buf[:n]), "HTTP/1.1 404 Not Found") {
			return ErrPeer404
		}
		if _, writeErr := out.Write(buf[:n]); writeErr != nil {
			return fmt.Errorf("peertransport: write chunk: %w", writeErr)
		}
		written += int64(n)
		reportProgress(sink, written, expectedSize)
	}
	if err != nil {
		return eofOrNil(err)
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(ConnectTimeout)); err != nil {
			return fmt.Errorf("peertransport: set read deadline: %w", err)
		}
		n, err = conn.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("peertransport: write chunk: %w", writeErr)
			}
			written += int64(n)
			reportProgress(sink, written, expectedSize)
		}
		if err != nil {
			return eofOrNil(err)
		}
	}
}

// eofOrNil treats a clean EOF as the normal end of transfer, matching the
// original's reliance on stream EOF to detect completion (spec §4.7's "no
// length prefix").
func eofOrNil(err error) error {
	if err == io.EOF {
		return nil
	}
	return fmt.Errorf("peertransport: read chunk: %w", err)
}

func reportProgress(sink ProgressSink, written, expectedSize int64) {
	if expectedSize <= 0 {
		return
	}
	sink.Progress(int(written * 100 / expectedSize))
}

// chooseLocalName prefers fileName.fileType; on collision it tries
// fileName(1).fileType, (2), ... up to (1000), overwriting fileName.fileType
// on overflow, per spec §4.8.
func (d *Downloader) chooseLocalName(fileName, fileType string) (string, error) {
	base := fileName + "." + fileType
	exists, err := afero.Exists(d.fs, base)
	if err != nil {
		return "", fmt.Errorf("peertransport: stat local file: %w", err)
	}
	if !exists {
		return base, nil
	}
	for i := 1; i <= 1000; i++ {
		candidate := fmt.Sprintf("%s(%d).%s", fileName, i, fileType)
		exists, err := afero.Exists(d.fs, candidate)
		if err != nil {
			return "", fmt.Errorf("peertransport: stat local file: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return base, nil
}
