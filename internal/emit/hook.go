package emit

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/pcmlabs/alertwatch/internal/alert"
)

const defaultHookTimeout = 10 * time.Second

// Hook runs an operator-supplied shell snippet once per event with the
// event fields exported in the environment. The snippet is parsed once
// at construction; each event gets a fresh interpreter and a timeout.
type Hook struct {
	file    *syntax.File
	timeout time.Duration
	stdout  io.Writer
	stderr  io.Writer
}

// NewHook parses command into a reusable hook. An empty command is a
// configuration error surfaced here, not at first event.
func NewHook(command string, timeout time.Duration, stdout, stderr io.Writer) (*Hook, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("empty hook command")
	}
	file, err := syntax.NewParser().Parse(strings.NewReader(command), "hook")
	if err != nil {
		return nil, fmt.Errorf("parse hook command: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Hook{file: file, timeout: timeout, stdout: stdout, stderr: stderr}, nil
}

func (h *Hook) Emit(ctx context.Context, event alert.Event) error {
	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	env := append(os.Environ(),
		"ALERT_KIND="+string(event.Kind),
		"ALERT_ID="+event.Record.ID,
		"ALERT_LABEL="+event.Record.SourceLabel,
		"ALERT_HOST="+event.Record.Host,
		"ALERT_CATEGORY="+event.Record.Category,
		"ALERT_DETAIL="+event.Record.Detail,
		"ALERT_OPDATA="+event.Record.Opdata,
		"ALERT_SEVERITY="+event.Record.Severity,
		"ALERT_ACK="+event.Record.AckStatus(),
		"ALERT_DURATION="+alert.FormatDuration(event.Record.AgeSeconds),
		"ALERT_LINE="+event.Line(),
	)

	runner, err := interp.New(
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, h.stdout, h.stderr),
	)
	if err != nil {
		return fmt.Errorf("hook interpreter: %w", err)
	}
	if err := runner.Run(runCtx, h.file); err != nil {
		return fmt.Errorf("hook run: %w", err)
	}
	return nil
}
