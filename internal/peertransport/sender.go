package peertransport

import (
	"bufio"
	"log/slog"
	"net"
	"strings"

	"github.com/spf13/afero"
)

const notFoundResponse = "HTTP/1.1 404 Not Found\n"

// Sender handles one accepted connection: it reads a single GET request
// line, then streams the named file back in 1024-byte chunks, or writes
// the 404 sentinel if the file is absent (spec §4.7).
type Sender struct {
	fs     afero.Fs
	logger *slog.Logger
}

// Serve reads exactly one request and responds, then closes conn.
func (s *Sender) Serve(conn net.Conn) {
	defer conn.Close()
	if s.logger == nil {
		s.logger = slog.Default()
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		s.logger.Error("peertransport: failed to read request line", "error", err)
		return
	}

	path, ok := parseGETLine(line)
	if !ok {
		s.logger.Error("peertransport: malformed request line", "line", line)
		return
	}

	f, err := s.fs.Open(path)
	if err != nil {
		if _, writeErr := conn.Write([]byte(notFoundResponse)); writeErr != nil {
			s.logger.Error("peertransport: failed to write 404", "error", writeErr)
		}
		return
	}
	defer f.Close()

	buf := make([]byte, 1024)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, writeErr := conn.Write(buf[:n]); writeErr != nil {
				s.logger.Error("peertransport: failed to write file chunk", "error", writeErr)
				return
			}
		}
		if readErr != nil {
			return
		}
	}
}

// parseGETLine parses "GET <percent-encoded-path>\n" and reverses the
// spec's narrow %20<->space encoding.
func parseGETLine(line string) (path string, ok bool) {
	line = strings.TrimRight(line, "\n")
	fields := strings.SplitN(line, " ", 2)
	if len(fields) != 2 || fields[0] != "GET" {
		return "", false
	}
	return strings.ReplaceAll(fields[1], "%20", " "), true
}
