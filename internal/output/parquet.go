package output

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/dsablic/linestat/internal/model"
)

// WriteParquet writes snapshot rows to w using the schema derived from
// model.StatSnapshot.
func WriteParquet(w io.Writer, rows []model.StatSnapshot) error {
	writer := parquet.NewGenericWriter[model.StatSnapshot](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write snapshots to parquet: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return nil
}
