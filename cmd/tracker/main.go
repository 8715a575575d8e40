// Command tracker is the main entry point for the tracker daemon binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/anton-mishchenko/p2p-tracker/internal/config"
	"github.com/anton-mishchenko/p2p-tracker/internal/logging"
	"github.com/anton-mishchenko/p2p-tracker/internal/trackerd"
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
	case "serve":
		return serve(argv[2:])
	case "-h", "--help", "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown subcommand: %s", argv[1])
	}
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var configPath, envPath, logLevel string
	var showVersion bool
	fs.StringVar(&configPath, "config", "./tracker.yaml", "path to tracker.yaml")
	fs.StringVar(&envPath, "env", "", "path to a .env file overlaying storage.password")
	fs.StringVar(&logLevel, "log-level", "", "override log.level from the config file")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("tracker %s\n", version.Version)
		return nil
	}

	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	lg, _, err := logging.New(logging.Options{Level: cfg.Log.Level, DefaultSlog: true})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return trackerd.Run(ctx, cfg, lg)
}

func usage() {
	fmt.Fprintln(os.Stderr, "tracker <serve> [flags]")
}
