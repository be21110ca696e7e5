// Package output provides output formatting utilities for CLI commands and
// the progress listing API. Three formats are supported: structured (JSON),
// tabular, and plain text; yaml is additionally accepted on the CLI.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Format represents the output format type.
type Format string

const (
	// FormatStructured outputs data as indented JSON.
	FormatStructured Format = "structured"
	// FormatTabular outputs data in a formatted table.
	FormatTabular Format = "tabular"
	// FormatPlain outputs data as plain, line-oriented text.
	FormatPlain Format = "plain"
	// FormatYAML outputs data as YAML.
	FormatYAML Format = "yaml"
)

// ParseFormat parses a string into a Format, returning an error if invalid.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "structured", "json", "":
		return FormatStructured, nil
	case "tabular", "table":
		return FormatTabular, nil
	case "plain", "text":
		return FormatPlain, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: structured, tabular, plain, yaml)", s)
	}
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// PlainRenderer is implemented by types that can render themselves as
// line-oriented plain text.
type PlainRenderer interface {
	PlainLines() []string
}

// Printer handles formatted output to a writer.
type Printer struct {
	out    io.Writer
	format Format
}

// NewPrinter creates a new Printer with the given options.
func NewPrinter(out io.Writer, format Format) *Printer {
	return &Printer{out: out, format: format}
}

// DefaultPrinter creates a Printer that writes to stdout in tabular format.
func DefaultPrinter() *Printer {
	return NewPrinter(os.Stdout, FormatTabular)
}

// Format returns the printer's output format.
func (p *Printer) Format() Format {
	return p.format
}

// Writer returns the printer's output writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Print outputs data in the configured format.
// For tabular format, data should implement TableRenderer; for plain,
// PlainRenderer. Both fall back to JSON otherwise.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatTabular:
		if renderer, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, renderer)
		}
		return PrintJSON(p.out, data)
	case FormatPlain:
		if renderer, ok := data.(PlainRenderer); ok {
			for _, line := range renderer.PlainLines() {
				if _, err := fmt.Fprintln(p.out, line); err != nil {
					return err
				}
			}
			return nil
		}
		return PrintJSON(p.out, data)
	case FormatStructured:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

// Println prints a message followed by a newline.
func (p *Printer) Println(args ...any) {
	_, _ = fmt.Fprintln(p.out, args...)
}

// Printf prints a formatted message.
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}
