// Package peerclient pairs an HTTP client for the trackerapi surface with
// internal/peertransport's Listener/Sender/Downloader, the direct analogue
// of original_source/serviceClient's ClientMain plus FileTransferHandler
// pairing (spec §4.11), minus the excluded desktop GUI.
package peerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/anton-mishchenko/p2p-tracker/internal/tags"
)

// Client holds the session state (name, token) a peer needs across RPCs,
// mirroring the token/username pair ClientGUI carried between calls.
type Client struct {
	baseURL *url.URL
	hc      *http.Client

	Name  string
	Token string
}

// Options configures a Client.
type Options struct {
	Addr    string
	Timeout time.Duration
}

// New constructs a Client bound to a tracker address. No request is made
// until Connect or Resume.
func New(opt Options) (*Client, error) {
	if opt.Addr == "" {
		return nil, errors.New("addr is required")
	}
	u, err := url.Parse(opt.Addr)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if u.Host == "" {
		return nil, errors.New("invalid addr")
	}
	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Client{baseURL: u, hc: &http.Client{Timeout: timeout}}, nil
}

// Connect logs in or registers name, storing the issued token on success.
// The returned tag is one of OK, NEW, UPDATE, FULL, COPY, PASSWORD, ERROR.
func (c *Client) Connect(ctx context.Context, name, password, ip string, port int) (tag string, err error) {
	var reply []string
	if err := c.post(ctx, "/rpc/connect", map[string]any{
		"Name": name, "Password": password, "IP": ip, "Port": port,
	}, &reply); err != nil {
		return "", err
	}
	tag = reply[0]
	if isSessionTag(tag) {
		c.Name, c.Token = name, reply[1]
	}
	return tag, nil
}

// Resume re-authenticates a previously live session, rotating the token.
func (c *Client) Resume(ctx context.Context, ip string, port int) (tag string, err error) {
	var reply []string
	if err := c.post(ctx, "/rpc/resume", map[string]any{
		"Token": c.Token, "Name": c.Name, "IP": ip, "Port": port,
	}, &reply); err != nil {
		return "", err
	}
	tag = reply[0]
	if isSessionTag(tag) {
		c.Token = reply[1]
	}
	return tag, nil
}

// Disconnect ends the live session.
func (c *Client) Disconnect(ctx context.Context) (tag string, err error) {
	var reply []string
	if err := c.post(ctx, "/rpc/disconnect", map[string]any{
		"Token": c.Token, "Name": c.Name,
	}, &reply); err != nil {
		return "", err
	}
	return reply[0], nil
}

// Heartbeat refreshes the session's last-active timestamp.
func (c *Client) Heartbeat(ctx context.Context) (tag string, err error) {
	var reply []string
	if err := c.post(ctx, "/rpc/heartbeat", map[string]any{
		"Token": c.Token, "Name": c.Name,
	}, &reply); err != nil {
		return "", err
	}
	return reply[0], nil
}

// Share registers a single file in the catalog, the register-and-seed flow
// of spec §4.11. Callers are expected to have already started a Listener
// serving filePath locally before calling Share.
func (c *Client) Share(ctx context.Context, fileName, fileType, filePath string, fileSize int64) (tag string, err error) {
	var reply []string
	if err := c.post(ctx, "/rpc/files/register", map[string]any{
		"Token": c.Token, "Name": c.Name,
		"FileName": fileName, "FileType": fileType, "FilePath": filePath, "FileSize": fileSize,
	}, &reply); err != nil {
		return "", err
	}
	return reply[0], nil
}

// Unshare removes a previously registered file from the catalog.
func (c *Client) Unshare(ctx context.Context, fileName, fileType, filePath string) (tag string, err error) {
	var reply []string
	if err := c.post(ctx, "/rpc/files/deregister", map[string]any{
		"Token": c.Token, "Name": c.Name,
		"FileName": fileName, "FileType": fileType, "FilePath": filePath,
	}, &reply); err != nil {
		return "", err
	}
	return reply[0], nil
}

// FileEntry is one catalog row, as returned by List and Find.
type FileEntry struct {
	FileID int64
	Name   string
	Type   string
	Path   string
	Size   int64
}

// MyFiles lists every catalog row owned by the connected peer.
func (c *Client) MyFiles(ctx context.Context) (tag string, entries []FileEntry, err error) {
	var reply []string
	q := url.Values{"token": {c.Token}, "name": {c.Name}}
	if err := c.get(ctx, "/rpc/files", q, &reply); err != nil {
		return "", nil, err
	}
	tag = reply[0]
	if tag != tags.OK {
		return tag, nil, nil
	}
	entries, err = parseFileFields(reply[1:], 5)
	return tag, entries, err
}

// Find searches the catalog for query, the find flow of spec §4.11.
// Results exclude the requester's own files and files owned by peers who
// are no longer connected.
func (c *Client) Find(ctx context.Context, query string) (tag string, entries []FileEntry, err error) {
	var reply []string
	q := url.Values{"token": {c.Token}, "name": {c.Name}, "query": {query}}
	if err := c.get(ctx, "/rpc/search", q, &reply); err != nil {
		return "", nil, err
	}
	tag = reply[0]
	if tag != tags.OK {
		return tag, nil, nil
	}
	entries, err = parseFileFields(reply[1:], 4)
	return tag, entries, err
}

// Peer is one (ip, port, path) tuple describing where a file_id can be
// fetched, as returned by Hosts.
type Peer struct {
	IP   string
	Port int
	Path string
}

// Hosts looks up every live peer currently hosting fileID, the lookup half
// of the get flow of spec §4.11.
func (c *Client) Hosts(ctx context.Context, fileID int64) (tag string, peers []Peer, err error) {
	var reply []string
	q := url.Values{"token": {c.Token}, "name": {c.Name}, "file_id": {strconv.FormatInt(fileID, 10)}}
	if err := c.get(ctx, "/rpc/hosts", q, &reply); err != nil {
		return "", nil, err
	}
	tag = reply[0]
	if tag != tags.OK {
		return tag, nil, nil
	}
	if len(reply[1:])%3 != 0 {
		return "", nil, fmt.Errorf("peerclient: malformed hosts reply: %d fields", len(reply[1:]))
	}
	for i := 1; i+2 < len(reply); i += 3 {
		port, err := strconv.Atoi(reply[i+1])
		if err != nil {
			return "", nil, fmt.Errorf("peerclient: malformed host port: %w", err)
		}
		peers = append(peers, Peer{IP: reply[i], Port: port, Path: reply[i+2]})
	}
	return tag, peers, nil
}

func parseFileFields(fields []string, width int) ([]FileEntry, error) {
	if len(fields)%width != 0 {
		return nil, fmt.Errorf("peerclient: malformed file reply: %d fields, width %d", len(fields), width)
	}
	entries := make([]FileEntry, 0, len(fields)/width)
	for i := 0; i+width-1 < len(fields); i += width {
		id, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("peerclient: malformed file_id: %w", err)
		}
		size, err := strconv.ParseInt(fields[i+width-1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("peerclient: malformed file size: %w", err)
		}
		e := FileEntry{FileID: id, Name: fields[i+1], Type: fields[i+2], Size: size}
		if width == 5 {
			e.Path = fields[i+3]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func isSessionTag(tag string) bool {
	switch tag {
	case tags.OK, tags.New, tags.Update:
		return true
	default:
		return false
	}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("peerclient: decode reply: %w", err)
	}
	return nil
}
