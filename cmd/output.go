package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/antirek/lsyncd/pkg/platform/terminal"
)

// StatusLinePrinter provides printing facilities for dynamically updating
// status lines in the console, used by "-monitor" to show the live delay
// queue without scrolling the terminal.
type StatusLinePrinter struct {
	// UseStandardError causes the printer to use standard error for its
	// output instead of standard output (the default).
	UseStandardError bool
	// nonEmpty indicates whether the printer has printed any non-empty
	// content to the status line.
	nonEmpty bool
}

// Print prints a message to the status line, overwriting any existing
// content. Messages are truncated or padded to a fixed width so every
// previous line is fully overwritten.
func (p *StatusLinePrinter) Print(message string) {
	output := color.Output
	if p.UseStandardError {
		output = color.Error
	}
	fmt.Fprintf(output, statusLineFormat, terminal.NeutralizeControlCharacters(message))
	p.nonEmpty = true
}

// Clear wipes the status line and returns the cursor to its start.
func (p *StatusLinePrinter) Clear() {
	output := color.Output
	if p.UseStandardError {
		output = color.Error
	}
	fmt.Fprintf(output, statusLineClearFormat, "")
	p.nonEmpty = false
}

// BreakIfNonEmpty prints a newline if the status line currently holds
// content, so subsequent plain log output doesn't land on top of it.
func (p *StatusLinePrinter) BreakIfNonEmpty() {
	if !p.nonEmpty {
		return
	}
	output := os.Stdout
	if p.UseStandardError {
		output = os.Stderr
	}
	fmt.Fprintln(output)
	p.nonEmpty = false
}
