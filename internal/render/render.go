// Package render writes decoded surveys for people and other tools.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/banshee-data/mnemo/internal/dump"
	"github.com/banshee-data/mnemo/internal/mnemo"
)

// Format selects an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	// FormatDump re-encodes the surveys as device dump text.
	FormatDump Format = "dump"
)

// Formats lists the supported formats.
var Formats = []Format{FormatJSON, FormatYAML, FormatDump}

// FormatNames returns the supported format names separated by commas.
func FormatNames() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// ParseFormat accepts a format name, case-insensitively. "yml" is an alias of
// "yaml".
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "yml" {
		return FormatYAML, nil
	}
	if slices.Contains(Formats, f) {
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want one of %s)", s, FormatNames())
}

// Write renders surveys to w. JSON is indented by two spaces with object keys
// sorted; a nil slice renders as an empty list.
func Write(w io.Writer, surveys []mnemo.Survey, format Format) error {
	if surveys == nil {
		surveys = []mnemo.Survey{}
	}

	var out []byte
	var err error
	switch format {
	case FormatJSON:
		out, err = sortedJSON(surveys)
	case FormatYAML:
		out, err = yaml.Marshal(surveys)
	case FormatDump:
		var data []byte
		if data, err = mnemo.Encode(surveys); err == nil {
			var buf bytes.Buffer
			err = dump.Format(&buf, data)
			buf.WriteByte('\n')
			out = buf.Bytes()
		}
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", format, err)
	}
	_, err = w.Write(out)
	return err
}

// sortedJSON marshals v with every object's keys in lexical order. Decoding
// into generic values lets encoding/json sort map keys on the way back out.
func sortedJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
