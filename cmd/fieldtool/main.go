package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/g2-field-team/field-daq/internal/config"
	"github.com/g2-field-team/field-daq/internal/db"
	"github.com/g2-field-team/field-daq/internal/logging"
	"github.com/g2-field-team/field-daq/internal/migrate"
	"github.com/g2-field-team/field-daq/internal/topology"
)

const appName = "fieldtool"

var version = "dev"

const usage = `usage: %s <command> [flags]
  migrate              apply pending archive schema migrations
  ids                  print the hw_id table of the configured topology
  setpoint [-timeout d] <payload>
                       send a setpoint command and print the reply
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "migrate":
		err = runMigrate()
	case "ids":
		err = runIDs(os.Args[2:])
	case "setpoint":
		err = runSetpoint(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func runMigrate() error {
	cfg, err := config.LoadArchiverFromEnv()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Common, version, appName)

	conn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	n, err := migrate.Run(conn, logger)
	if err != nil {
		return err
	}
	fmt.Printf("%d migrations applied\n", n)
	return nil
}

func runIDs(args []string) error {
	fs := flag.NewFlagSet("ids", flag.ContinueOnError)
	file := fs.String("file", "", "topology YAML file (default: TOPOLOGY_* environment)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var topo *topology.Topology
	if *file != "" {
		t, err := topology.Load(*file)
		if err != nil {
			return err
		}
		topo = t
	} else {
		cfg, err := config.LoadToolFromEnv()
		if err != nil {
			return err
		}
		topo = cfg.Topology
	}
	return printIDs(os.Stdout, topo)
}

func runSetpoint(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("setpoint", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 5*time.Second, "how long to wait for the reply")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one payload argument, e.g. '{\"111\": 1.5}' or '1.5 -0.5'")
	}

	cfg, err := config.LoadToolFromEnv()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Common, version, appName)
	slog.SetDefault(logger)

	reply, err := sendSetpoint(ctx, cfg, []byte(fs.Arg(0)), *timeout, logger)
	if err != nil {
		return err
	}
	fmt.Println(string(reply))
	return nil
}
