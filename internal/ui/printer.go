// Package ui provides terminal output helpers for the CLI: colored status
// lines on interactive terminals, plain text on pipes and CI.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// ANSI sequences used when color is enabled.
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorDim    = "\033[2m"
	clearLine   = "\r\033[K"
)

// Printer writes status output. On a TTY progress updates rewrite one line
// and status markers are colored; on pipes every update is its own plain
// line so logs stay readable.
type Printer struct {
	mu          sync.Mutex
	out         io.Writer
	tty         bool
	color       bool
	progressing bool
}

// Option configures a Printer.
type Option func(*Printer)

// WithNoColor disables ANSI colors regardless of terminal detection.
func WithNoColor() Option {
	return func(p *Printer) { p.color = false }
}

// WithPlain forces pipe-style output even on a TTY.
func WithPlain() Option {
	return func(p *Printer) { p.tty = false }
}

// NewPrinter creates a printer for the given writer.
func NewPrinter(out io.Writer, opts ...Option) *Printer {
	p := &Printer{out: out}
	p.tty = IsTTY(out) && !DetectCI()
	p.color = p.tty && !DetectNoColor()
	for _, opt := range opts {
		opt(p)
	}
	if !p.tty {
		p.color = false
	}
	return p
}

// Progress reports phase progress. Subsequent calls overwrite the line on a
// TTY; total may be zero when the extent is unknown.
func (p *Printer) Progress(phase string, done, total int, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var line string
	if total > 0 {
		line = fmt.Sprintf("%s %d/%d %s", phase, done, total, detail)
	} else if detail != "" {
		line = fmt.Sprintf("%s %s", phase, detail)
	} else {
		line = phase
	}

	if p.tty {
		fmt.Fprintf(p.out, "%s%s", clearLine, p.dim(line))
		p.progressing = true
		return
	}
	fmt.Fprintln(p.out, line)
}

// Successf prints a final success line.
func (p *Printer) Successf(format string, args ...any) {
	p.statusLine(colorGreen, "ok", format, args...)
}

// Warnf prints a warning line.
func (p *Printer) Warnf(format string, args ...any) {
	p.statusLine(colorYellow, "warn", format, args...)
}

// Errorf prints an error line.
func (p *Printer) Errorf(format string, args ...any) {
	p.statusLine(colorRed, "error", format, args...)
}

// Plainf prints an uncolored line, finishing any in-place progress first.
func (p *Printer) Plainf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endProgress()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *Printer) statusLine(color, marker, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endProgress()

	msg := fmt.Sprintf(format, args...)
	if p.color {
		fmt.Fprintf(p.out, "%s%s%s %s\n", color, marker, colorReset, msg)
		return
	}
	fmt.Fprintf(p.out, "%s: %s\n", marker, msg)
}

// endProgress terminates an in-place progress line. Callers hold the mutex.
func (p *Printer) endProgress() {
	if p.progressing {
		fmt.Fprint(p.out, clearLine)
		p.progressing = false
	}
}

func (p *Printer) dim(s string) string {
	if p.color {
		return colorDim + s + colorReset
	}
	return s
}

// IsTTY reports whether the writer is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether the process runs in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
