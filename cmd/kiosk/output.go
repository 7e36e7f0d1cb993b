package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

const keyWidth = 14

// Color palette
var (
	accent  = lipgloss.Color("#E5A00D")
	dimGray = lipgloss.Color("#6B7280")
	white   = lipgloss.Color("#F9FAFB")
	green   = lipgloss.Color("#10B981")
	red     = lipgloss.Color("#EF4444")
)

var (
	noStyle      = lipgloss.NewStyle()
	titleStyle   = lipgloss.NewStyle().Foreground(white).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(dimGray)
	accentStyle  = lipgloss.NewStyle().Foreground(accent)
	successStyle = lipgloss.NewStyle().Foreground(green)
	keyStyle     = lipgloss.NewStyle().Foreground(dimGray).Width(keyWidth)
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func errorStyle(f *os.File) lipgloss.Style {
	if !isTerminal(f) {
		return noStyle
	}
	return lipgloss.NewStyle().Foreground(red)
}

// printer writes CLI output, styled only when w is a terminal.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(f *os.File) *printer {
	return &printer{w: f, styled: isTerminal(f)}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) title(text string) {
	fmt.Fprintln(p.w, p.render(titleStyle, text))
}

func (p *printer) field(key string, value any) {
	k := key + ":"
	if p.styled {
		k = keyStyle.Render(k)
	} else {
		k = fmt.Sprintf("%-*s", keyWidth, k)
	}
	fmt.Fprintf(p.w, "%s %v\n", k, value)
}

func (p *printer) item(label, detail string) {
	line := "  " + p.render(accentStyle, label)
	if detail != "" {
		line += " " + p.render(dimStyle, detail)
	}
	fmt.Fprintln(p.w, line)
}

func (p *printer) success(text string) {
	fmt.Fprintln(p.w, p.render(successStyle, "✓ "+text))
}

func (p *printer) dim(text string) {
	fmt.Fprintln(p.w, p.render(dimStyle, text))
}

// highlight marks the matched byte offsets of s.
func (p *printer) highlight(s string, indexes []int) string {
	if !p.styled || len(indexes) == 0 {
		return s
	}
	marked := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		marked[i] = true
	}
	var b strings.Builder
	for i, r := range s {
		if marked[i] {
			b.WriteString(accentStyle.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
