package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"time"
)

// outputMode is the rendering a command result gets: human text for
// terminals, an indented JSON document for scripts, or one object per
// line for streaming consumers like pool --watch.
type outputMode int

const (
	modeHuman outputMode = iota
	modeJSON
	modeJSONL
)

// Formatter renders command results in the mode the global output
// flags ask for.
type Formatter struct {
	out  io.Writer
	mode outputMode
}

// NewFormatter builds a formatter from the current output flags.
func NewFormatter(out io.Writer) *Formatter {
	mode := modeHuman
	switch {
	case IsJSONLOutput():
		mode = modeJSONL
	case IsJSONOutput():
		mode = modeJSON
	}
	return &Formatter{out: out, mode: mode}
}

// Write renders one command result.
func (f *Formatter) Write(value any) error {
	switch f.mode {
	case modeJSONL:
		return f.writeStream(value)
	case modeJSON:
		return f.writeDocument(value)
	default:
		_, err := fmt.Fprintln(f.out, value)
		return err
	}
}

// WriteOutput renders value to out under the current output flags.
func WriteOutput(out io.Writer, value any) error {
	return NewFormatter(out).Write(value)
}

func (f *Formatter) writeDocument(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(f.out, string(data))
	return err
}

// writeStream flattens slices into one record per line so watchers and
// log shippers never have to buffer a whole document. Scalar results
// become a single line.
func (f *Formatter) writeStream(value any) error {
	v := reflect.ValueOf(value)
	if v.IsValid() && (v.Kind() == reflect.Slice || v.Kind() == reflect.Array) {
		for i := 0; i < v.Len(); i++ {
			if err := f.writeRecord(v.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	}
	return f.writeRecord(value)
}

func (f *Formatter) writeRecord(value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal JSONL: %w", err)
	}
	_, err = fmt.Fprintln(f.out, string(data))
	return err
}

// formatLatency renders slot and outcome durations for tables; zero
// means no completions yet.
func formatLatency(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

// formatTriState renders a tests-passed/user-accepted observation:
// unknown until a caller reported it either way.
func formatTriState(v *bool) string {
	if v == nil {
		return "unknown"
	}
	return formatYesNo(*v)
}

// shortID abbreviates outcome and pipeline uuids the way history
// listings show them.
func shortID(id string) string {
	const limit = 8
	if len(id) <= limit {
		return id
	}
	return id[:limit]
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
