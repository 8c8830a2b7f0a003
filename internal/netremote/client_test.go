package netremote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marcus/ormsync/internal/syncproto"
)

func TestSend_DecodesAcksAndRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/dbs/mydb/sync/push" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req pushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Batches) != 1 {
			t.Fatalf("expected 1 batch, got %d", len(req.Batches))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pushResponse{
			Accepted: 1,
			Acks:     []syncproto.Ack{{BatchID: req.Batches[0].ID, ServerTimestampMs: 42}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "mydb")
	result, err := c.Send(context.Background(), []syncproto.MutationBatch{{ID: "b1"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Accepted != 1 || len(result.Acks) != 1 || result.Acks[0].BatchID != "b1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPull_ReturnsBatchesAndCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after_server_seq") != "10" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pullResponse{
			Batches:       []syncproto.MutationBatch{{ID: "b2"}},
			LastServerSeq: 11,
			HasMore:       false,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "mydb")
	result, err := c.Pull(context.Background(), 10, 100)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if result.LastServerSeq != 11 || len(result.Batches) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

type recordingSink struct {
	begun   []string
	applied []syncproto.ColumnarBatch
	ended   []string
}

func (s *recordingSink) BeginTable(ctx context.Context, table string) error {
	s.begun = append(s.begun, table)
	return nil
}
func (s *recordingSink) ApplyBatch(ctx context.Context, table string, batch syncproto.ColumnarBatch) error {
	s.applied = append(s.applied, batch)
	return nil
}
func (s *recordingSink) EndTable(ctx context.Context, table string) error {
	s.ended = append(s.ended, table)
	return nil
}

func TestBulkPull_DispatchesFramesToSink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/dbs/mydb/sync/bulkpull" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req bulkPullRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ResumeState["done_table"] != SkipTable {
			t.Fatalf("expected done_table marked skip, got %+v", req.ResumeState)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		syncproto.WriteString(w, "widgets")
		encoded, _ := syncproto.EncodeColumnarBatch(syncproto.ColumnarBatch{
			Table: "widgets", Columns: map[string][]any{"id": {"w1"}}, NumRows: 1,
		})
		syncproto.WriteFrame(w, syncproto.Frame{Tag: syncproto.TagBinary, Payload: encoded})
		syncproto.WriteEnd(w)
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "mydb")
	sink := &recordingSink{}
	err := c.BulkPull(context.Background(), map[string]int64{"done_table": SkipTable}, sink)
	if err != nil {
		t.Fatalf("bulk pull: %v", err)
	}
	if len(sink.begun) != 1 || sink.begun[0] != "widgets" {
		t.Fatalf("unexpected begun tables: %+v", sink.begun)
	}
	if len(sink.applied) != 1 || sink.applied[0].NumRows != 1 {
		t.Fatalf("unexpected applied batches: %+v", sink.applied)
	}
	if len(sink.ended) != 1 || sink.ended[0] != "widgets" {
		t.Fatalf("unexpected ended tables: %+v", sink.ended)
	}
}

func TestDo_MapsUnauthorizedToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(errorResponse{Error: apiError{Code: "unauthorized", Message: "bad key"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "bad-key", "mydb")
	_, err := c.Status(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
