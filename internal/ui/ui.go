// Package ui renders human-facing CLI output.
package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4")).
		Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#04B575"))

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FF0000"))

	dimStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888"))
)

// UI is what commands write their results to.
type UI interface {
	Title(text string)
	Info(text string)
	Error(text string)
	Detail(text string)
	Print(text string)
}

// Printer writes to an io.Writer, styled with lipgloss when Styled is set.
type Printer struct {
	Out    io.Writer
	Styled bool
}

// New returns a Printer for out.
func New(out io.Writer, styled bool) *Printer {
	return &Printer{Out: out, Styled: styled}
}

func (p *Printer) render(s lipgloss.Style, text string) {
	if p.Styled {
		text = s.Render(text)
	}
	fmt.Fprintln(p.Out, text)
}

func (p *Printer) Title(text string)  { p.render(titleStyle, text) }
func (p *Printer) Info(text string)   { p.render(infoStyle, text) }
func (p *Printer) Error(text string)  { p.render(errorStyle, text) }
func (p *Printer) Detail(text string) { p.render(dimStyle, text) }
func (p *Printer) Print(text string)  { fmt.Fprintln(p.Out, text) }

// SilentUI discards everything.
type SilentUI struct{}

func (SilentUI) Title(string)  {}
func (SilentUI) Info(string)   {}
func (SilentUI) Error(string)  {}
func (SilentUI) Detail(string) {}
func (SilentUI) Print(string)  {}
