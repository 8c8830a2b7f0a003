package syncserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/syncproto"
)

func doBulkPull(t *testing.T, s *Server, dbName string, resumeState map[string]int64) []syncproto.Frame {
	t.Helper()
	body, _ := json.Marshal(bulkPullRequest{ResumeState: resumeState})
	req := httptest.NewRequest(http.MethodPost, "/v1/dbs/"+dbName+"/sync/bulkpull", bytes.NewReader(body))
	req.SetPathValue("db", dbName)
	w := httptest.NewRecorder()
	s.handleBulkPull(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("bulk pull status: %d body: %s", w.Code, w.Body.String())
	}

	var frames []syncproto.Frame
	r := w.Body
	for {
		f, err := syncproto.ReadFrame(r)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		frames = append(frames, f)
		if f.Tag == syncproto.TagEnd {
			break
		}
	}
	return frames
}

func TestHandleBulkPull_StreamsTableThenEnd(t *testing.T) {
	s := newTestServer(t)
	seedWidgetsTable(t, s, "db1")
	d, _, _ := s.pool.Get(context.Background(), "db1")
	if _, err := d.Run(context.Background(), driver.RawSQL{Query: "INSERT INTO widgets (id, name) VALUES ('w1', 'first')"}); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	frames := doBulkPull(t, s, "db1", nil)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames (table, batch, end), got %d", len(frames))
	}
	if frames[0].Tag != syncproto.TagString || string(frames[0].Payload) != "widgets" {
		t.Fatalf("expected widgets STRING frame first, got %+v", frames[0])
	}
	if frames[1].Tag != syncproto.TagBinary {
		t.Fatalf("expected BINARY batch frame, got %+v", frames[1])
	}
	batch, err := syncproto.DecodeColumnarBatch(frames[1].Payload)
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if batch.Table != "widgets" || batch.NumRows != 1 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if frames[2].Tag != syncproto.TagEnd {
		t.Fatalf("expected END frame last, got %+v", frames[2])
	}
}

func TestHandleBulkPull_SkipsTableMarkedDone(t *testing.T) {
	s := newTestServer(t)
	seedWidgetsTable(t, s, "db1")

	frames := doBulkPull(t, s, "db1", map[string]int64{"widgets": skipTable})
	if len(frames) != 1 || frames[0].Tag != syncproto.TagEnd {
		t.Fatalf("expected only an END frame when table is fully pulled, got %+v", frames)
	}
}
