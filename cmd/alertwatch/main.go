package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pcmlabs/alertwatch/internal/config"
	"github.com/pcmlabs/alertwatch/internal/emit"
	"github.com/pcmlabs/alertwatch/internal/snapshot"
	"github.com/pcmlabs/alertwatch/internal/zabbix"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func initLogger(level string) {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
}

func openStore(cfg config.Config) (snapshot.Store, error) {
	switch cfg.Snapshot.Store {
	case config.StoreFile:
		return snapshot.NewFile(cfg.Snapshot.Path), nil
	default:
		return snapshot.NewSQLite(cfg.Snapshot.Path)
	}
}

func newSource(cfg config.Config) (*zabbix.Client, error) {
	return zabbix.NewClient(cfg.Zabbix.URL, cfg.Zabbix.User, cfg.Zabbix.Password, zabbix.Options{
		Timeout:            cfg.Zabbix.Timeout.Std(),
		InsecureSkipVerify: cfg.Zabbix.InsecureSkipVerify,
	})
}

// buildSinks assembles the output sinks: console always, the shell hook
// when configured.
func buildSinks(cfg config.Config, stdout, stderr io.Writer) (emit.Multi, error) {
	sinks := emit.Multi{emit.NewConsole(stdout)}
	if cfg.Hook.Command != "" {
		hook, err := emit.NewHook(cfg.Hook.Command, cfg.Hook.Timeout.Std(), stdout, stderr)
		if err != nil {
			return nil, fmt.Errorf("configure hook: %w", err)
		}
		sinks = append(sinks, hook)
	}
	return sinks, nil
}
