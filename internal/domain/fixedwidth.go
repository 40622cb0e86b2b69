package domain

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrLineTooShort is returned by Layout.Decode when a line cannot contain a
// complete record. Callers skip the line and keep reading.
var ErrLineTooShort = errors.New("line too short")

// Kind is the declared type of a fixed-width column.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
)

// Column describes one field as a half-open byte range [Start, End).
type Column struct {
	Name  string
	Start int
	End   int
	Kind  Kind
}

// Layout is an ordered list of columns plus the minimum line width a
// record needs to be considered complete.
type Layout struct {
	MinWidth int
	Columns  []Column
}

// Value is one decoded column. Present is false when the column was outside
// the line or its content could not be coerced to the declared kind.
type Value struct {
	Str     string
	Int     int
	Float   float64
	Present bool
}

// Record holds the decoded columns of one line, keyed by column name.
type Record map[string]Value

// String returns the trimmed text of a column.
func (r Record) String(name string) (string, bool) {
	v, ok := r[name]
	if !ok || !v.Present {
		return "", false
	}
	return v.Str, true
}

// Int returns an integer column.
func (r Record) Int(name string) (int, bool) {
	v, ok := r[name]
	if !ok || !v.Present {
		return 0, false
	}
	return v.Int, true
}

// Float returns a float column.
func (r Record) Float(name string) (float64, bool) {
	v, ok := r[name]
	if !ok || !v.Present {
		return 0, false
	}
	return v.Float, true
}

// Decode extracts every column of the layout from line. Columns that run past
// the end of the line are clipped; a column starting past the end is absent.
// Empty or non-numeric numeric columns are absent rather than an error.
func (l Layout) Decode(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < l.MinWidth {
		return nil, fmt.Errorf("%w: %d < %d", ErrLineTooShort, len(line), l.MinWidth)
	}

	rec := make(Record, len(l.Columns))
	for _, col := range l.Columns {
		rec[col.Name] = decodeColumn(line, col)
	}
	return rec, nil
}

func decodeColumn(line string, col Column) Value {
	if col.Start >= len(line) {
		return Value{}
	}
	end := col.End
	if end > len(line) {
		end = len(line)
	}
	raw := strings.TrimSpace(line[col.Start:end])

	switch col.Kind {
	case KindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Value{Str: raw}
		}
		return Value{Str: raw, Int: n, Present: true}
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{Str: raw}
		}
		return Value{Str: raw, Float: f, Present: true}
	default:
		return Value{Str: raw, Present: raw != ""}
	}
}

// ScanStats counts lines seen by ScanLines.
type ScanStats struct {
	Read    int
	Skipped int
}

// maxLineBytes bounds a single line held in memory by ScanLines. Longer
// lines are drained and counted as skipped.
const maxLineBytes = 1 << 20

// ScanLines streams r line by line and hands each line to fn. A non-nil error
// from fn marks the line as skipped; only read errors from r abort the scan.
func ScanLines(r io.Reader, fn func(lineNo int, line string) error) (ScanStats, error) {
	var stats ScanStats
	br := bufio.NewReaderSize(r, 64*1024)
	buf := make([]byte, 0, 4096)
	overlong := false

	for {
		chunk, err := br.ReadSlice('\n')
		if len(buf)+len(chunk) > maxLineBytes {
			overlong = true
			buf = buf[:0]
		} else if !overlong {
			buf = append(buf, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return stats, fmt.Errorf("scan lines: %w", err)
		}

		if len(buf) > 0 || overlong {
			stats.Read++
			line := strings.TrimSuffix(strings.TrimSuffix(string(buf), "\n"), "\r")
			switch {
			case overlong, strings.TrimSpace(line) == "":
				stats.Skipped++
			default:
				if ferr := fn(stats.Read, line); ferr != nil {
					stats.Skipped++
				}
			}
		}
		buf = buf[:0]
		overlong = false

		if err != nil {
			return stats, nil
		}
	}
}
