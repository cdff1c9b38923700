package output

import (
	"encoding/json"
	"io"

	"github.com/dsablic/linestat/internal/model"
)

// WriteJSON writes the report as pretty-printed JSON to w.
func WriteJSON(w io.Writer, report model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteSnapshotsJSON writes raw snapshot rows as a JSON array.
func WriteSnapshotsJSON(w io.Writer, rows []model.StatSnapshot) error {
	if rows == nil {
		rows = []model.StatSnapshot{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
