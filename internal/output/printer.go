package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Format selects how results are rendered
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --format value
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json or yaml)", s)
	}
}

// Printer renders plain results to a writer
type Printer struct {
	w      io.Writer
	format Format
	indent bool
}

// NewPrinter creates a printer. JSON is indented only when w is a terminal.
func NewPrinter(w io.Writer, format Format) *Printer {
	return &Printer{w: w, format: format, indent: IsTerminal(w)}
}

// Indent forces indented JSON regardless of the writer
func (p *Printer) Indent(on bool) *Printer {
	p.indent = on
	return p
}

// Print writes v in the printer's format
func (p *Printer) Print(v interface{}) error {
	switch p.format {
	case FormatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(p.w)
		if p.indent {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
