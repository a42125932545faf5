package lake

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/nocassist/nocassist/internal/incident"
	"github.com/nocassist/nocassist/internal/schema"
)

// EncodeBatch writes the batch as one parquet file with every registry column
// present as an optional string. Columns missing from the batch are null.
func EncodeBatch(registry *schema.Registry, batch incident.Batch) ([]byte, error) {
	if len(batch.Rows) == 0 {
		return nil, incident.ErrEmptyBatch
	}

	group := parquet.Group{}
	for _, column := range registry.Columns() {
		group[column] = parquet.Optional(parquet.String())
	}
	parquetSchema := parquet.NewSchema(registry.Table(), group)

	source := make(map[string]int, len(batch.Columns))
	for i, column := range batch.Columns {
		source[column] = i
	}
	leaves := parquetSchema.Columns()
	leafSource := make([]int, len(leaves))
	for i, path := range leaves {
		idx, ok := source[path[0]]
		if !ok {
			idx = -1
		}
		leafSource[i] = idx
	}

	rows := make([]parquet.Row, 0, len(batch.Rows))
	for r, cells := range batch.Rows {
		if len(cells) != len(batch.Columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", r+1, len(cells), len(batch.Columns))
		}
		row := make(parquet.Row, len(leaves))
		for leaf, idx := range leafSource {
			if idx < 0 || cells[idx] == "" {
				row[leaf] = parquet.NullValue().Level(0, 0, leaf)
				continue
			}
			row[leaf] = parquet.ByteArrayValue([]byte(cells[idx])).Level(0, 1, leaf)
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, parquetSchema)
	if _, err := writer.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
