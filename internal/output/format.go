// Package output renders reports and exported snapshots.
package output

import (
	"fmt"
	"strings"
)

// Format names an output encoding.
type Format string

const (
	JSON     Format = "json"
	Markdown Format = "markdown"
	Table    Format = "table"
	Parquet  Format = "parquet"
)

// ParseFormat accepts a format name, case-insensitively. "md" is an alias
// for markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "markdown", "md":
		return Markdown, nil
	case "table", "":
		return Table, nil
	case "parquet":
		return Parquet, nil
	}
	return "", fmt.Errorf("unknown format %q (want json, markdown, table or parquet)", s)
}
