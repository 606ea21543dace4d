// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders CLI output. Styling is applied only when the
// destination is a terminal; piped output is plain and tab separated.
package ux

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/edithistory/services/history"
)

var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
)

// Styles are the lipgloss styles used by Printer.
var Styles = struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Op      lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Op:      lipgloss.NewStyle().Foreground(ColorTealPrimary).Width(10),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// previewRunes caps content shown per entry in list output.
const previewRunes = 72

// Printer writes human or machine output to w.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter styles output only when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		styled = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return &Printer{w: w, styled: styled}
}

// NewPlainPrinter never styles.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Styled reports whether terminal styling is on.
func (p *Printer) Styled() bool {
	return p.styled
}

func (p *Printer) Title(text string) {
	if !p.styled {
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

func (p *Printer) Success(text string) {
	if !p.styled {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Success.Render("✓"), text)
}

func (p *Printer) Warning(text string) {
	if !p.styled {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Warning.Render("⚠"), Styles.Warning.Render(text))
}

func (p *Printer) Error(text string) {
	if !p.styled {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Error.Render("✗"), Styles.Error.Render(text))
}

// Content prints a field's content as-is, boxed on a terminal.
func (p *Printer) Content(title, content string) {
	if !p.styled {
		fmt.Fprintln(p.w, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// Entries prints one line per entry, newest first as given.
func (p *Printer) Entries(entries []history.Entry) {
	if len(entries) == 0 {
		if p.styled {
			fmt.Fprintln(p.w, Styles.Muted.Render("no history"))
		}
		return
	}
	for _, e := range entries {
		when := time.UnixMilli(e.Timestamp).Format("2006-01-02 15:04:05")
		if !p.styled {
			fmt.Fprintf(p.w, "%d\t%s\t%s\t%s\t%s\n",
				e.Timestamp, e.Field(), e.OperationType, e.RequestID, oneLine(e.Content, 0))
			continue
		}
		fmt.Fprintf(p.w, "%s %s %s %s\n",
			Styles.Muted.Render(when),
			Styles.Muted.Render(e.Field().String()),
			Styles.Op.Render(string(e.OperationType)),
			oneLine(e.Content, previewRunes),
		)
	}
}

// Stats prints totals and per-field and per-operation counts, sorted by key.
func (p *Printer) Stats(stats history.Stats) {
	if !p.styled {
		fmt.Fprintf(p.w, "total\t%d\n", stats.Total)
		for _, k := range sortedKeys(stats.PerField) {
			fmt.Fprintf(p.w, "field\t%s\t%d\n", k, stats.PerField[k])
		}
		for _, k := range sortedKeys(stats.PerOperation) {
			fmt.Fprintf(p.w, "operation\t%s\t%d\n", k, stats.PerOperation[k])
		}
		return
	}

	fmt.Fprintf(p.w, "%s %d\n", Styles.Title.Render("Entries"), stats.Total)
	fmt.Fprintln(p.w, Styles.Muted.Render("by field"))
	for _, k := range sortedKeys(stats.PerField) {
		fmt.Fprintf(p.w, "  %-24s %d\n", k, stats.PerField[k])
	}
	fmt.Fprintln(p.w, Styles.Muted.Render("by operation"))
	for _, k := range sortedKeys(stats.PerOperation) {
		fmt.Fprintf(p.w, "  %s %d\n", Styles.Op.Render(k), stats.PerOperation[k])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// oneLine flattens newlines and, when max > 0, clips to max runes.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if max > 0 && utf8.RuneCountInString(s) > max {
		return string([]rune(s)[:max-1]) + "…"
	}
	return s
}
