package syncproto

import (
	"bytes"
	"testing"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteString(&buf, "hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFrame(&buf, Frame{Tag: TagBinary, Payload: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteEnd(&buf); err != nil {
		t.Fatalf("write end: %v", err)
	}

	f1, err := ReadFrame(&buf)
	if err != nil || f1.Tag != TagString || string(f1.Payload) != "hello" {
		t.Fatalf("unexpected frame 1: %+v err=%v", f1, err)
	}
	f2, err := ReadFrame(&buf)
	if err != nil || f2.Tag != TagBinary || !bytes.Equal(f2.Payload, []byte{1, 2, 3}) {
		t.Fatalf("unexpected frame 2: %+v err=%v", f2, err)
	}
	f3, err := ReadFrame(&buf)
	if err != nil || f3.Tag != TagEnd {
		t.Fatalf("unexpected frame 3: %+v err=%v", f3, err)
	}
}

func TestColumnarBatch_RoundTrip(t *testing.T) {
	rows := []map[string]any{
		{"id": "1", "name": "Alice"},
		{"id": "2", "name": "Bob"},
	}
	b := RowsToColumnarBatch("users", rows)
	encoded, err := EncodeColumnarBatch(b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeColumnarBatch(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out := ColumnarBatchToRows(decoded)
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out))
	}
}

func TestAdaptiveBatchSizer_ClampsToBounds(t *testing.T) {
	s := NewAdaptiveBatchSizer(50)
	if s.NextSize() != defaultBatchRows {
		t.Fatalf("expected default initial size, got %d", s.NextSize())
	}
	s.Observe(1, 1) // tiny per-row size -> would compute an enormous next size
	if s.NextSize() != maxBatchRows {
		t.Fatalf("expected clamp to max, got %d", s.NextSize())
	}
	s.Observe(100*1024*1024, 1) // huge per-row size -> would compute a tiny next size
	if s.NextSize() != minBatchRows {
		t.Fatalf("expected clamp to min, got %d", s.NextSize())
	}
}
