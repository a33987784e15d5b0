package command

import (
	"fmt"
	"strings"

	"github.com/dockhand/dockhand/internal/events"
)

// DefaultDelimiter separates fields in structured CLI output. Commands are
// invoked with explicit --format flags producing exactly this framing, so the
// split is deterministic across tool versions.
const DefaultDelimiter = "|"

// Schema names the ordered fields expected on each output line.
type Schema struct {
	Fields    []string
	Delimiter string
}

func (s Schema) delimiter() string {
	if s.Delimiter == "" {
		return DefaultDelimiter
	}
	return s.Delimiter
}

// ParseLine splits one line against the schema. A field-count mismatch is an
// error; no partially-filled record is ever produced.
func ParseLine(line string, schema Schema) (events.Record, error) {
	parts := strings.Split(line, schema.delimiter())
	if len(parts) != len(schema.Fields) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(schema.Fields), len(parts))
	}

	rec := make(events.Record, len(schema.Fields))
	for i, field := range schema.Fields {
		rec[field] = parts[i]
	}
	return rec, nil
}

// ParseOutput splits full command output line-by-line. Lines that do not
// match the schema yield ParseErrors and never abort the batch; blank lines
// are skipped.
func ParseOutput(output string, schema Schema) ([]events.Record, []events.ParseError) {
	var records []events.Record
	var parseErrs []events.ParseError

	for i, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := ParseLine(line, schema)
		if err != nil {
			parseErrs = append(parseErrs, events.ParseError{
				Line:    i + 1,
				Text:    line,
				Message: err.Error(),
			})
			continue
		}
		records = append(records, rec)
	}
	return records, parseErrs
}
