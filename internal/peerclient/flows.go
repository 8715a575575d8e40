package peerclient

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"golang.org/x/term"

	"github.com/anton-mishchenko/p2p-tracker/internal/peertransport"
	"github.com/anton-mishchenko/p2p-tracker/internal/tags"
)

// ShareFile registers localPath in the catalog under the connected peer's
// name, assuming a Listener is already serving out of fs at the directory
// containing localPath. It is the register-and-seed flow of spec §4.11.
func (c *Client) ShareFile(ctx context.Context, fs afero.Fs, localPath string) (tag string, err error) {
	info, err := fs.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("peerclient: stat local file: %w", err)
	}
	base := filepath.Base(localPath)
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return c.Share(ctx, name, ext, localPath, info.Size())
}

// Fetch looks up every live host of fileID and downloads from the first
// one that answers, the get flow of spec §4.11. It returns the local path
// the file was written to.
func (d *Downloader) Fetch(ctx context.Context, client *Client, fileID int64) (localPath string, err error) {
	tag, hosts, err := client.Hosts(ctx, fileID)
	if err != nil {
		return "", err
	}
	if tag != tags.OK {
		return "", fmt.Errorf("peerclient: hosts lookup returned %s", tag)
	}

	var lastErr error
	for _, h := range hosts {
		name, localErr := d.downloadFrom(h)
		if localErr == nil {
			return name, nil
		}
		lastErr = localErr
	}
	return "", fmt.Errorf("peerclient: every host for file %d failed: %w", fileID, lastErr)
}

// Downloader wraps a peertransport.Downloader with the filename metadata
// needed to drive Fetch against whichever host answers first.
type Downloader struct {
	transport    *peertransport.Downloader
	fileName     string
	fileType     string
	expectedSize int64
}

// NewDownloader builds a Downloader that writes into fs, targeting a file
// whose catalog entry carries the given name, type, and size.
func NewDownloader(fs afero.Fs, fileName, fileType string, expectedSize int64) *Downloader {
	return &Downloader{
		transport:    peertransport.NewDownloader(fs),
		fileName:     fileName,
		fileType:     fileType,
		expectedSize: expectedSize,
	}
}

func (d *Downloader) downloadFrom(h Peer) (string, error) {
	if err := d.transport.Download(h.IP, h.Port, h.Path, d.fileName, d.fileType, d.expectedSize, nil); err != nil {
		return "", err
	}
	return d.fileName + "." + d.fileType, nil
}

// PromptPassword reads a password from the terminal without echoing it,
// falling back to a plain newline-terminated read when stdin isn't a
// terminal (e.g. piped input in scripts or tests).
func PromptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprintf(os.Stderr, "%s: ", label)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	_ = syscall.Stdin
	r := bufio.NewReader(os.Stdin)
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
