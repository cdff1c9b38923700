// Package language maps file paths to language definitions using an
// ordered extension table.
package language

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

//go:embed languages.json
var defaultTable []byte

// Definition describes one language of the table.
type Definition struct {
	Key        string
	Name       string
	Extensions []string
	// Comment matches a comment line at the start of the trimmed line.
	Comment *regexp.Regexp
}

// Normalized returns the case-normalized name used as an aggregation key.
func (d Definition) Normalized() string {
	return strings.ToUpper(d.Name)
}

// Table is an immutable, ordered set of definitions. When two
// definitions share an extension, the one listed first wins.
type Table struct {
	defs []Definition
}

type rawDefinition struct {
	Name         string   `json:"name"`
	Extensions   []string `json:"extensions"`
	CommentRegex string   `json:"comment_regex"`
}

// Default returns the table compiled into the binary.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("embedded language table: %v", err))
	}
	return t
}

// Load reads a table from path, or returns the embedded table when path
// is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language table: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON object of key -> {name, extensions, comment_regex}.
// Object key order is preserved since it decides ties.
func Parse(data []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode language table: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("decode language table: expected a JSON object")
	}

	t := &Table{}
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode language table: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode language table: unexpected token %v", tok)
		}

		var raw rawDefinition
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode language %q: %w", key, err)
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate language key %q", key)
		}
		seen[key] = true

		def, err := compile(key, raw)
		if err != nil {
			return nil, err
		}
		t.defs = append(t.defs, def)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode language table: %w", err)
	}
	if len(t.defs) == 0 {
		return nil, errors.New("language table is empty")
	}
	return t, nil
}

func compile(key string, raw rawDefinition) (Definition, error) {
	if raw.Name == "" {
		return Definition{}, fmt.Errorf("language %q: missing name", key)
	}
	if len(raw.Extensions) == 0 {
		return Definition{}, fmt.Errorf("language %q: no extensions", key)
	}
	if raw.CommentRegex == "" {
		return Definition{}, fmt.Errorf("language %q: missing comment_regex", key)
	}
	re, err := regexp.Compile(`^(?:` + raw.CommentRegex + `)`)
	if err != nil {
		return Definition{}, fmt.Errorf("language %q: compile comment_regex: %w", key, err)
	}
	return Definition{
		Key:        key,
		Name:       raw.Name,
		Extensions: append([]string(nil), raw.Extensions...),
		Comment:    re,
	}, nil
}

// Classify returns the first definition with an extension that is a
// suffix of path.
func (t *Table) Classify(path string) (Definition, bool) {
	for _, def := range t.defs {
		for _, ext := range def.Extensions {
			if strings.HasSuffix(path, ext) {
				return def, true
			}
		}
	}
	return Definition{}, false
}

// Definitions returns a copy of the table in order.
func (t *Table) Definitions() []Definition {
	return append([]Definition(nil), t.defs...)
}

// Len returns the number of definitions.
func (t *Table) Len() int {
	return len(t.defs)
}
