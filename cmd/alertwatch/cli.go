package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/pcmlabs/alertwatch/internal/config"
	"github.com/pcmlabs/alertwatch/internal/emit"
	"github.com/pcmlabs/alertwatch/internal/watcher"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var loadConfigFn = config.Load

const (
	cmdHelp       = "help"
	flagHelpShort = "-h"
	flagHelpLong  = "--help"
)

func writef(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

func writeln(w io.Writer, args ...any) {
	_, _ = fmt.Fprintln(w, args...)
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printRootHelp(stdout)
		return 0
	}

	switch args[0] {
	case "-v", "--version", "version":
		writef(stdout, "alertwatch version %s\n", currentVersion())
		return 0
	case "run":
		return runRunCommand(args[1:], stdout, stderr)
	case "watch":
		return runWatchCommand(args[1:], stdout, stderr)
	case "doctor":
		return runDoctorCommand(args[1:], stdout, stderr)
	case cmdHelp, flagHelpShort, flagHelpLong:
		printRootHelp(stdout)
		return 0
	default:
		writef(stderr, "unknown command: %s\n\n", args[0])
		printRootHelp(stderr)
		return 2
	}
}

func parseConfigFlag(name string, args []string, stdout, stderr io.Writer, printHelp func(io.Writer)) (config.Config, bool, int) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	help := fs.Bool("help", false, "show help")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, false, 2
	}
	if *help {
		printHelp(stdout)
		return config.Config{}, false, 0
	}
	if fs.NArg() > 0 {
		writef(stderr, "unexpected argument(s): %s\n", strings.Join(fs.Args(), " "))
		return config.Config{}, false, 2
	}

	cfg, err := loadConfigFn(*configPath)
	if err != nil {
		writef(stderr, "%v\n", err)
		return config.Config{}, false, 1
	}
	return cfg, true, 0
}

func runRunCommand(args []string, stdout, stderr io.Writer) int {
	cfg, ok, code := parseConfigFlag("run", args, stdout, stderr, printRunHelp)
	if !ok {
		return code
	}
	initLogger(cfg.LogLevel)

	source, err := newSource(cfg)
	if err != nil {
		writef(stderr, "%v\n", err)
		return 1
	}
	store, err := openStore(cfg)
	if err != nil {
		writef(stderr, "open snapshot store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	sinks, err := buildSinks(cfg, stdout, stderr)
	if err != nil {
		writef(stderr, "%v\n", err)
		return 1
	}

	svc := watcher.New(source, store, sinks, watcher.Options{
		Label:        cfg.Label,
		Schedule:     cfg.Schedule,
		OnFetchError: cfg.OnFetchError,
	})
	if _, err := svc.Run(context.Background()); err != nil {
		return 1
	}
	return 0
}

func runWatchCommand(args []string, stdout, stderr io.Writer) int {
	cfg, ok, code := parseConfigFlag("watch", args, stdout, stderr, printWatchHelp)
	if !ok {
		return code
	}
	initLogger(cfg.LogLevel)

	source, err := newSource(cfg)
	if err != nil {
		writef(stderr, "%v\n", err)
		return 1
	}
	store, err := openStore(cfg)
	if err != nil {
		writef(stderr, "open snapshot store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	sinks, err := buildSinks(cfg, stdout, stderr)
	if err != nil {
		writef(stderr, "%v\n", err)
		return 1
	}

	// Sinks receive events synchronously from the cycle so no change
	// line is ever dropped; the hub carries a best-effort copy for
	// additional in-process subscribers.
	hub := emit.NewHub()
	svc := watcher.New(source, store, emit.Multi{sinks, hub}, watcher.Options{
		Label:        cfg.Label,
		Schedule:     cfg.Schedule,
		OnFetchError: cfg.OnFetchError,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := svc.Start(ctx); err != nil {
		writef(stderr, "%v\n", err)
		return 1
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	svc.Stop(stopCtx)
	cancel()
	return 0
}

func runDoctorCommand(args []string, stdout, stderr io.Writer) int {
	cfg, ok, code := parseConfigFlag("doctor", args, stdout, stderr, printDoctorHelp)
	if !ok {
		return code
	}

	printHeading(stdout, "alertwatch doctor")
	rows := []outputRow{
		{Key: "label", Value: cfg.Label},
		{Key: "schedule", Value: cfg.Schedule},
		{Key: "on_fetch_error", Value: cfg.OnFetchError},
		{Key: "zabbix_url", Value: cfg.Zabbix.URL},
		{Key: "store", Value: cfg.Snapshot.Store},
		{Key: "snapshot_path", Value: cfg.Snapshot.Path},
		{Key: "hook", Value: boolWord(cfg.Hook.Command != "", "enabled", "disabled")},
	}

	storeStatus := "ok"
	store, err := openStore(cfg)
	if err != nil {
		storeStatus = "failed"
		writef(stderr, "store: %v\n", err)
	} else {
		_ = store.Close()
	}
	rows = append(rows, outputRow{Key: "store_check", Value: storeStatus})

	loginStatus := "ok"
	source, err := newSource(cfg)
	if err != nil {
		loginStatus = "failed"
		writef(stderr, "zabbix: %v\n", err)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Zabbix.Timeout.Std())
		token, err := source.Login(ctx)
		if err != nil {
			loginStatus = "failed"
			writef(stderr, "zabbix: %v\n", err)
		} else {
			_ = source.Logout(ctx, token)
		}
		cancel()
	}
	rows = append(rows, outputRow{Key: "zabbix_login", Value: loginStatus})

	printRows(stdout, rows)
	if storeStatus != "ok" || loginStatus != "ok" {
		return 1
	}
	return 0
}

func boolWord(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}

func currentVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return version
}

func printRootHelp(w io.Writer) {
	writeln(w, "alertwatch - Zabbix problem poller with change detection")
	writeln(w)
	writeln(w, "Usage:")
	writeln(w, "  alertwatch <command> [flags]")
	writeln(w)
	writeln(w, "Commands:")
	writeln(w, "  run      run one reconciliation cycle and exit")
	writeln(w, "  watch    run cycles on the configured schedule until interrupted")
	writeln(w, "  doctor   check config, snapshot store and Zabbix connectivity")
	writeln(w, "  version  print the version")
	writeln(w, "  help     show this help")
	writeln(w)
	writeln(w, "Configuration is read from", config.DefaultPath())
	writeln(w, "(override with --config or ALERTWATCH_* environment variables).")
}

func printRunHelp(w io.Writer) {
	writeln(w, "Usage: alertwatch run [--config path]")
	writeln(w)
	writeln(w, "Fetches active problems, diffs them against the last snapshot,")
	writeln(w, "prints NEW PROBLEM / DATA UPDATE / RESOLVED lines and persists")
	writeln(w, "the new snapshot when anything changed.")
}

func printWatchHelp(w io.Writer) {
	writeln(w, "Usage: alertwatch watch [--config path]")
	writeln(w)
	writeln(w, "Runs reconciliation cycles on the configured schedule until")
	writeln(w, "SIGINT or SIGTERM.")
}

func printDoctorHelp(w io.Writer) {
	writeln(w, "Usage: alertwatch doctor [--config path]")
	writeln(w)
	writeln(w, "Validates the configuration, opens the snapshot store and")
	writeln(w, "probes the Zabbix API with a login/logout round trip.")
}
