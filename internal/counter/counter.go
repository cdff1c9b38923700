// Package counter classifies lines as code, comment or empty.
package counter

import (
	"regexp"
	"strings"

	"github.com/dsablic/linestat/internal/model"
)

// Count splits text on newlines and classifies each trimmed line. A
// trailing newline does not start an extra line and a trailing carriage
// return is part of the line ending. Comment is matched against the
// trimmed line and must anchor at its start.
func Count(text string, comment *regexp.Regexp) model.LineCounts {
	var c model.LineCounts
	if text == "" {
		return c
	}
	text = strings.TrimSuffix(text, "\n")

	for line := range strings.SplitSeq(text, "\n") {
		c.Total++
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			c.Empty++
		case comment != nil && matchesAtStart(comment, trimmed):
			c.Comment++
		default:
			c.Code++
		}
	}
	return c
}

func matchesAtStart(re *regexp.Regexp, s string) bool {
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}
