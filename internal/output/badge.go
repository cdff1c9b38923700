package output

import (
	"fmt"
	"html"
	"io"
	"math"
	"text/template"
)

// BadgeMetrics lists the values a badge can show.
var BadgeMetrics = []string{"total_lines", "code_lines", "comment_lines", "empty_lines", "files"}

var badgeTmpl = template.Must(template.New("badge").Parse(
	`<svg width="{{.Width10}}" height="20" viewBox="0 0 {{.Width}} 200" xmlns="http://www.w3.org/2000/svg" role="img" aria-label="{{.Label}}: {{.Value}}">
  <title>{{.Label}}: {{.Value}}</title>
  <linearGradient id="a" x2="0" y2="100%">
    <stop offset="0" stop-opacity=".1" stop-color="#EEE"/>
    <stop offset="1" stop-opacity=".1"/>
  </linearGradient>
  <mask id="m"><rect width="{{.Width}}" height="200" rx="30" fill="#FFF"/></mask>
  <g mask="url(#m)">
    <rect width="{{.LeftBox}}" height="200" fill="#555"/>
    <rect width="{{.RightBox}}" height="200" fill="{{.Color}}" x="{{.LeftBox}}"/>
    <rect width="{{.Width}}" height="200" fill="url(#a)"/>
  </g>
  <g aria-hidden="true" fill="#fff" text-anchor="start" font-family="Verdana,DejaVu Sans,sans-serif" font-size="110">
    <text x="60" y="148" textLength="{{.LabelLen}}" fill="#000" opacity="0.25">{{.Label}}</text>
    <text x="50" y="138" textLength="{{.LabelLen}}">{{.Label}}</text>
    <text x="{{.ShadowX}}" y="148" textLength="{{.ValueLen}}" fill="#000" opacity="0.25">{{.Value}}</text>
    <text x="{{.ValueX}}" y="138" textLength="{{.ValueLen}}">{{.Value}}</text>
  </g>
</svg>
`))

// WriteBadge renders a shields-style SVG badge. Label, value and color
// are escaped.
func WriteBadge(w io.Writer, label, value, color string) error {
	labelLen, valueLen := len(label)*66, len(value)*66
	width := labelLen + valueLen + 200
	return badgeTmpl.Execute(w, map[string]any{
		"Label":    html.EscapeString(label),
		"Value":    html.EscapeString(value),
		"Color":    html.EscapeString(color),
		"Width":    width,
		"Width10":  float64(width) / 10,
		"LabelLen": labelLen,
		"ValueLen": valueLen,
		"LeftBox":  labelLen + 100,
		"RightBox": valueLen + 100,
		"ShadowX":  labelLen + 135,
		"ValueX":   labelLen + 145,
	})
}

// HumanNumber abbreviates n with k/m/b/t suffixes and one decimal.
func HumanNumber(n int64) string {
	suffixes := []string{"", "k", "m", "b", "t"}
	v := float64(n)
	i := 0
	for math.Abs(v) >= 1000 && i < len(suffixes)-1 {
		v /= 1000
		i++
	}
	return fmt.Sprintf("%.1f%s", v, suffixes[i])
}
