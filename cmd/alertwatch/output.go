package main

import (
	"io"

	"github.com/pcmlabs/alertwatch/internal/emit"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
)

type outputRow struct {
	Key   string
	Value string
}

func printRows(w io.Writer, rows []outputRow) {
	if !emit.PrettyOutput(w) {
		for _, row := range rows {
			writef(w, "%s: %s\n", row.Key, row.Value)
		}
		return
	}

	maxKey := 0
	for _, row := range rows {
		if len(row.Key) > maxKey {
			maxKey = len(row.Key)
		}
	}
	for _, row := range rows {
		writef(w, "%s%-*s%s  %s\n", ansiDim, maxKey, row.Key, ansiReset, colorizeValue(row.Value))
	}
}

func printHeading(w io.Writer, title string) {
	if emit.PrettyOutput(w) {
		writef(w, "%s%s%s\n", ansiBold, title, ansiReset)
		return
	}
	writeln(w, title)
}

func colorizeValue(value string) string {
	switch value {
	case "ok", "enabled":
		return ansiGreen + value + ansiReset
	case "failed", "disabled":
		return ansiRed + value + ansiReset
	default:
		return value
	}
}
