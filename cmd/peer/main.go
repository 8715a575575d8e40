// Command peer is the CLI entry point for the peer side of the tracker:
// it shares a local file, searches the catalog, or downloads a file from
// whichever live peer hosts it (spec §4.11).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/afero"

	"github.com/anton-mishchenko/p2p-tracker/internal/peerclient"
	"github.com/anton-mishchenko/p2p-tracker/internal/peertransport"
	"github.com/anton-mishchenko/p2p-tracker/internal/tags"
	"github.com/anton-mishchenko/p2p-tracker/internal/version"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(argv []string) error {
	if len(argv) < 2 {
		usage()
		return fmt.Errorf("missing subcommand")
	}

	switch argv[1] {
	case "share":
		return share(argv[2:])
	case "find":
		return find(argv[2:])
	case "get":
		return get(argv[2:])
	case "-h", "--help", "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown subcommand: %s", argv[1])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "peer <share|find|get> [flags]")
}

type loginFlags struct {
	addr string
	name string
	bind string
}

func (l *loginFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&l.addr, "tracker", "http://127.0.0.1:7070", "tracker address")
	fs.StringVar(&l.name, "name", "", "peer account name")
	fs.StringVar(&l.bind, "bind", "127.0.0.1:0", "local ip:port to advertise and listen for file requests on")
}

func (l *loginFlags) connect(ctx context.Context) (*peerclient.Client, *peertransport.Listener, error) {
	if l.name == "" {
		return nil, nil, fmt.Errorf("-name is required")
	}
	password, err := peerclient.PromptPassword("Password for " + l.name)
	if err != nil {
		return nil, nil, err
	}

	ln, err := peertransport.Listen(l.bind, afero.NewOsFs(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", l.bind, err)
	}
	go ln.Serve()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		ln.Close()
		return nil, nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		ln.Close()
		return nil, nil, err
	}

	c, err := peerclient.New(peerclient.Options{Addr: l.addr})
	if err != nil {
		ln.Close()
		return nil, nil, err
	}
	tag, err := c.Connect(ctx, l.name, password, host, port)
	if err != nil {
		ln.Close()
		return nil, nil, err
	}
	switch tag {
	case tags.Full:
		ln.Close()
		return nil, nil, fmt.Errorf("tracker is full")
	case tags.Copy:
		ln.Close()
		return nil, nil, fmt.Errorf("%s is already connected", l.name)
	case tags.Password:
		ln.Close()
		return nil, nil, fmt.Errorf("wrong password for %s", l.name)
	case tags.Error:
		ln.Close()
		return nil, nil, fmt.Errorf("tracker returned an internal error")
	}
	fmt.Fprintf(os.Stderr, "connected as %s (%s), listening on %s\n", l.name, tag, ln.Addr())
	return c, ln, nil
}

func share(args []string) error {
	fs := flag.NewFlagSet("share", flag.ContinueOnError)
	var l loginFlags
	l.register(fs)
	var path string
	fs.StringVar(&path, "file", "", "local file path to share")
	var showVersion bool
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("peer %s\n", version.Version)
		return nil
	}
	if path == "" {
		return fmt.Errorf("-file is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, ln, err := l.connect(ctx)
	if err != nil {
		return err
	}
	defer ln.Close()

	tag, err := c.ShareFile(ctx, afero.NewOsFs(), path)
	if err != nil {
		return err
	}
	if tag != tags.OK {
		return fmt.Errorf("share failed: %s", tag)
	}
	fmt.Fprintf(os.Stderr, "sharing %s, press ctrl-c to stop\n", path)

	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "shutting down")
	_, disconnectErr := c.Disconnect(context.Background())
	return disconnectErr
}

func find(args []string) error {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	var l loginFlags
	l.register(fs)
	var query string
	fs.StringVar(&query, "query", "", "search term")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if query == "" {
		return fmt.Errorf("-query is required")
	}

	ctx := context.Background()
	c, ln, err := l.connect(ctx)
	if err != nil {
		return err
	}
	defer ln.Close()
	defer c.Disconnect(ctx)

	tag, entries, err := c.Find(ctx, query)
	if err != nil {
		return err
	}
	if tag != tags.OK {
		fmt.Println("no matches")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%d\t%s.%s\t%d bytes\n", e.FileID, e.Name, e.Type, e.Size)
	}
	return nil
}

func get(args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	var l loginFlags
	l.register(fs)
	var fileID int64
	var name, typ string
	var size int64
	fs.Int64Var(&fileID, "file-id", 0, "file_id from a prior find")
	fs.StringVar(&name, "file-name", "", "file name from a prior find")
	fs.StringVar(&typ, "file-type", "", "file type/extension from a prior find")
	fs.Int64Var(&size, "file-size", 0, "file size in bytes from a prior find")
	var outDir string
	fs.StringVar(&outDir, "out", ".", "local directory to save the downloaded file into")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if name == "" || typ == "" {
		return fmt.Errorf("-file-name and -file-type are required")
	}

	ctx := context.Background()
	c, ln, err := l.connect(ctx)
	if err != nil {
		return err
	}
	defer ln.Close()
	defer c.Disconnect(ctx)

	outFS := afero.NewBasePathFs(afero.NewOsFs(), outDir)
	dl := peerclient.NewDownloader(outFS, name, typ, size)
	localPath, err := dl.Fetch(ctx, c, fileID)
	if err != nil {
		return err
	}
	fmt.Printf("saved %s\n", localPath)
	return nil
}
