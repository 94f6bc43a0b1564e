// Package printer renders command output and error boxes for the terminal.
package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hay-kot/criterio"
	"golang.org/x/term"
)

// ANSI color codes (Tokyo Night palette)
const (
	ColorReset     = "\033[0m"
	ColorRed       = "\033[38;2;215;95;107m"
	ColorGreen     = "\033[38;2;158;206;106m"
	ColorYellow    = "\033[38;2;224;175;104m"
	ColorGray      = "\033[38;2;86;95;137m"
	ColorBold      = "\033[1m"
	ColorUnderline = "\033[4m"
)

// Symbols
const (
	Check = "✔"
	Cross = "✘"
	Dot   = "•"
	Arrow = "→"
)

type ctxKey struct{}

// Printer writes formatted lines. Colors are only emitted when the writer
// is a terminal and NO_COLOR is unset.
type Printer struct {
	w     io.Writer
	color bool
}

// New creates a Printer that writes to w.
func New(w io.Writer) *Printer {
	return &Printer{w: w, color: useColor(w)}
}

func useColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewContext returns a context with the printer attached
func NewContext(ctx context.Context, p *Printer) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Ctx retrieves the printer from context, or creates a default one
func Ctx(ctx context.Context) *Printer {
	if p, ok := ctx.Value(ctxKey{}).(*Printer); ok {
		return p
	}
	return New(os.Stderr)
}

func (p *Printer) line(s string) {
	_, _ = io.WriteString(p.w, s+"\n")
}

func (p *Printer) paint(codes, text string) string {
	if !p.color {
		return text
	}
	return codes + text + ColorReset
}

// FatalError prints a boxed error. It does not exit.
func (p *Printer) FatalError(err error) {
	if err == nil {
		return
	}

	bar := p.paint(ColorRed, "│")

	var fieldErrs criterio.FieldErrors
	if !errors.As(err, &fieldErrs) {
		p.line(p.paint(ColorRed, "╭ Error"))
		p.line(bar + " " + p.paint(ColorGray, err.Error()))
		p.line(p.paint(ColorRed, "╵"))
		return
	}

	// Show whatever wrapped the field errors, e.g. "load config: invalid config".
	p.line(p.paint(ColorRed, "╭ Validation Error"))
	if idx := strings.Index(err.Error(), fieldErrs.Error()); idx > 0 {
		p.line(bar + " " + p.paint(ColorGray, strings.TrimSuffix(err.Error()[:idx], ": ")))
		p.line(bar)
	}
	for _, fe := range fieldErrs {
		s := bar + " " + p.paint(ColorRed, Cross) + " "
		if fe.Field != "" {
			s += p.paint(ColorGray, fe.Field+": ")
		}
		p.line(s + fe.Err.Error())
	}
	p.line(p.paint(ColorRed, "╵"))
}

// Errorf prints an error message in red
func (p *Printer) Errorf(format string, args ...any) {
	p.line(p.paint(ColorRed, Cross+" "+fmt.Sprintf(format, args...)))
}

// Successf prints a success message in green
func (p *Printer) Successf(format string, args ...any) {
	p.line(p.paint(ColorGreen, Check+" "+fmt.Sprintf(format, args...)))
}

// Infof prints an info message in gray
func (p *Printer) Infof(format string, args ...any) {
	p.line(p.paint(ColorGray, Dot+" "+fmt.Sprintf(format, args...)))
}

// Warnf prints a warning message in yellow
func (p *Printer) Warnf(format string, args ...any) {
	p.line(p.paint(ColorYellow, Dot+" "+fmt.Sprintf(format, args...)))
}

// Printf prints a plain message without colors
func (p *Printer) Printf(format string, args ...any) {
	p.line(fmt.Sprintf(format, args...))
}

// Bold makes text bold
func (p *Printer) Bold(text string) string {
	return p.paint(ColorBold, text)
}

// Section prints a bold, underlined header.
func (p *Printer) Section(title string) {
	p.line(p.paint(ColorBold+ColorUnderline, title))
}

// CheckItem prints an indented item with a green check.
func (p *Printer) CheckItem(label, detail string) {
	p.item(ColorGreen, Check, label, detail)
}

// WarnItem prints an indented item with a yellow dot.
func (p *Printer) WarnItem(label, detail string) {
	p.item(ColorYellow, Dot, label, detail)
}

// FailItem prints an indented item with a red cross.
func (p *Printer) FailItem(label, detail string) {
	p.item(ColorRed, Cross, label, detail)
}

func (p *Printer) item(color, symbol, label, detail string) {
	s := "  " + p.paint(color, symbol) + " " + label
	if detail != "" {
		s += ": " + detail
	}
	p.line(s)
}

// Entry prints one delivery record: a gray timestamp and header line,
// the bold topic, then body indented by two spaces.
func (p *Printer) Entry(at time.Time, header, topic, body string) {
	p.line(p.paint(ColorGray, at.Format("2006-01-02 15:04:05")+" "+header) + " " + Arrow + " " + p.Bold(topic))
	for _, l := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
		p.line("  " + l)
	}
}
