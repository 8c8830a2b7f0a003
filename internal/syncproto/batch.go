package syncproto

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// ColumnarBatch is a batch of rows for one table encoded column-wise
// (column name -> all values for that column, in row order). No Arrow-
// IPC-equivalent columnar format exists anywhere in the retrieved
// example pack (checked across every go.mod under _examples/: no
// apache/arrow, no parquet, no columnar library of any kind), so
// encoding/gob is used as a deliberate, justified stdlib fallback (see
// DESIGN.md) instead.
type ColumnarBatch struct {
	Table   string
	Columns map[string][]any
	NumRows int
}

// EncodeColumnarBatch gob-encodes b.
func EncodeColumnarBatch(b ColumnarBatch) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, fmt.Errorf("syncproto: encode columnar batch: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeColumnarBatch reverses EncodeColumnarBatch.
func DecodeColumnarBatch(data []byte) (ColumnarBatch, error) {
	var b ColumnarBatch
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return ColumnarBatch{}, fmt.Errorf("syncproto: decode columnar batch: %w", err)
	}
	return b, nil
}

// RowsToColumnarBatch transposes row-shaped data (as produced by
// driver.Row) into a ColumnarBatch, preserving row order within each
// column slice.
func RowsToColumnarBatch(table string, rows []map[string]any) ColumnarBatch {
	cols := make(map[string][]any)
	for _, row := range rows {
		for k := range row {
			if _, ok := cols[k]; !ok {
				cols[k] = make([]any, 0, len(rows))
			}
		}
	}
	for _, row := range rows {
		for k := range cols {
			cols[k] = append(cols[k], row[k])
		}
	}
	return ColumnarBatch{Table: table, Columns: cols, NumRows: len(rows)}
}

// ColumnarBatchToRows reverses RowsToColumnarBatch.
func ColumnarBatchToRows(b ColumnarBatch) []map[string]any {
	rows := make([]map[string]any, b.NumRows)
	for i := range rows {
		rows[i] = make(map[string]any, len(b.Columns))
	}
	for col, vals := range b.Columns {
		for i, v := range vals {
			if i < len(rows) {
				rows[i][col] = v
			}
		}
	}
	return rows
}

const (
	minBatchRows     = 100
	maxBatchRows     = 10000
	defaultBatchRows = 1000
)

// AdaptiveBatchSizer estimates how many rows to request per pull batch
// from the observed encoded size of the previous batch, targeting a
// total in-memory footprint of maxMemoryMb megabytes, clamped to
// [100, 10000] rows.
type AdaptiveBatchSizer struct {
	maxMemoryMb int
	currentSize int
	sampled     bool
}

// NewAdaptiveBatchSizer starts sizing at the 1000-row default.
func NewAdaptiveBatchSizer(maxMemoryMb int) *AdaptiveBatchSizer {
	if maxMemoryMb <= 0 {
		maxMemoryMb = 50
	}
	return &AdaptiveBatchSizer{maxMemoryMb: maxMemoryMb, currentSize: defaultBatchRows}
}

// NextSize returns the row count to request for the next batch.
func (s *AdaptiveBatchSizer) NextSize() int { return s.currentSize }

// Observe records the encoded byte size and row count of a completed
// batch, recalculating the target row count for the next request from
// the observed per-row size.
func (s *AdaptiveBatchSizer) Observe(encodedBytes int, rows int) {
	if rows == 0 {
		return
	}
	perRow := float64(encodedBytes) / float64(rows)
	if perRow <= 0 {
		return
	}
	targetBytes := float64(s.maxMemoryMb) * 1024 * 1024
	next := int(targetBytes / perRow)
	if next < minBatchRows {
		next = minBatchRows
	}
	if next > maxBatchRows {
		next = maxBatchRows
	}
	s.currentSize = next
	s.sampled = true
}
