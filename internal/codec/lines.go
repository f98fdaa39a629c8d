package codec

import (
	"fmt"
	"strings"
)

// SplitLines returns the non-blank lines of a collection blob. Trailing `\r`
// from CRLF files is dropped.
func SplitLines(blob []byte) []string {
	raw := strings.Split(string(blob), "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// JoinLines renders lines as a newline terminated blob. No lines yield an
// empty blob.
func JoinLines(lines []string) []byte {
	if len(lines) == 0 {
		return []byte{}
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// EncodeAll encodes every item with enc, stopping at the first error.
func EncodeAll[T any](items []T, enc func(T) (string, error)) ([]string, error) {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		line, err := enc(item)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// LineError locates a decode failure within a collection blob.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// DecodeAll decodes every line with dec. The first failure aborts the whole
// collection and is reported with its 1-based position among the non-blank lines.
func DecodeAll[T any](lines []string, dec func(string) (T, error)) ([]T, error) {
	out := make([]T, 0, len(lines))
	for i, line := range lines {
		item, err := dec(line)
		if err != nil {
			return nil, &LineError{Line: i + 1, Err: err}
		}
		out = append(out, item)
	}
	return out, nil
}
