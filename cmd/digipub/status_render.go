package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

type kindStyle struct {
	tag    string
	colors text.Colors
}

var kindStyles = map[statusKind]kindStyle{
	statusInfo:  {"INFO", text.Colors{text.FgBlue}},
	statusOK:    {"OK", text.Colors{text.FgGreen}},
	statusWarn:  {"WARN", text.Colors{text.FgYellow}},
	statusError: {"ERROR", text.Colors{text.FgRed, text.Bold}},
}

// Column the count or probe detail starts in, after the indent.
const statusColumn = 24

func (k statusKind) style() kindStyle {
	if s, ok := kindStyles[k]; ok {
		return s
	}
	return kindStyles[statusInfo]
}

// renderStatusLine formats "  label:   [TAG] message".
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style := kind.style()
	tail := "[" + style.tag + "]"
	if message != "" {
		tail += " " + message
	}
	line := fmt.Sprintf("  %-*s %s", statusColumn, label+":", tail)
	if !colorize {
		return line
	}
	return style.colors.Sprint(line)
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	lines := []string{heading, strings.Repeat("-", len(heading))}
	if colorize {
		for i := range lines {
			lines[i] = text.FgHiCyan.Sprint(lines[i])
		}
	}
	return lines
}

// shouldColorize reports whether w is an interactive terminal.
func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
