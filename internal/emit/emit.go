// Package emit renders change events to pluggable sinks.
package emit

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	isatty "github.com/mattn/go-isatty"

	"github.com/pcmlabs/alertwatch/internal/alert"
)

// Emitter receives one change event per call. Emit errors are logged by
// the caller and never fail the cycle.
type Emitter interface {
	Emit(ctx context.Context, event alert.Event) error
}

// Multi fans an event out to each sink in order.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, event alert.Event) error {
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

const (
	ansiReset  = "\033[0m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
)

// Console writes one semicolon-delimited line per event. The event kind
// is colorized when the writer is an interactive terminal.
type Console struct {
	w      io.Writer
	pretty bool
}

// NewConsole builds a console sink for w, honoring NO_COLOR and
// TERM=dumb.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, pretty: PrettyOutput(w)}
}

func (c *Console) Emit(_ context.Context, event alert.Event) error {
	line := event.Line()
	if c.pretty {
		line = colorizeKind(event) + line[len(event.Kind):]
	}
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func colorizeKind(event alert.Event) string {
	kind := string(event.Kind)
	switch event.Kind {
	case alert.KindResolved:
		return ansiGreen + kind + ansiReset
	case alert.KindUpdated:
		return ansiYellow + kind + ansiReset
	default:
	}
	switch event.Record.Severity {
	case "High", "Disaster":
		return ansiRed + kind + ansiReset
	default:
		return ansiYellow + kind + ansiReset
	}
}

// PrettyOutput reports whether w is an interactive terminal that wants
// color, honoring NO_COLOR and TERM=dumb.
func PrettyOutput(w io.Writer) bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb") {
		return false
	}
	fd, ok := fileDescriptor(w)
	if !ok {
		return false
	}
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func fileDescriptor(w io.Writer) (uintptr, bool) {
	type fdWriter interface {
		Fd() uintptr
	}
	f, ok := w.(fdWriter)
	if !ok {
		return 0, false
	}
	return f.Fd(), true
}
