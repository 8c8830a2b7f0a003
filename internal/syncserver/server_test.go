package syncserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marcus/ormsync/internal/syncproto"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	s := NewServer(cfg)
	t.Cleanup(func() { s.pool.CloseAll() })
	return s
}

func seedWidgetsTable(t *testing.T, s *Server, dbName string) {
	t.Helper()
	d, _, err := s.pool.Get(context.Background(), dbName)
	if err != nil {
		t.Fatalf("get db: %v", err)
	}
	if err := d.Exec(context.Background(), "CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create widgets: %v", err)
	}
}

func doPush(t *testing.T, s *Server, dbName string, batches []syncproto.MutationBatch) pushResponse {
	t.Helper()
	body, _ := json.Marshal(pushRequest{Batches: batches})
	req := httptest.NewRequest(http.MethodPost, "/v1/dbs/"+dbName+"/sync/push", bytes.NewReader(body))
	req.SetPathValue("db", dbName)
	w := httptest.NewRecorder()
	s.handlePush(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("push status: %d body: %s", w.Code, w.Body.String())
	}
	var resp pushResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode push response: %v", err)
	}
	return resp
}

func TestHandlePush_InsertIsAccepted(t *testing.T) {
	s := newTestServer(t)
	seedWidgetsTable(t, s, "db1")

	resp := doPush(t, s, "db1", []syncproto.MutationBatch{{
		ID: "01AAAA",
		Mutations: []syncproto.Mutation{
			{Table: "widgets", Type: syncproto.OpInsert, Data: json.RawMessage(`{"id":"w1","name":"first"}`)},
		},
	}})
	if resp.Accepted != 1 || len(resp.Acks) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandlePush_DuplicateInsertRejectsWholeBatch(t *testing.T) {
	s := newTestServer(t)
	seedWidgetsTable(t, s, "db1")

	doPush(t, s, "db1", []syncproto.MutationBatch{{
		ID:        "01AAAA",
		Mutations: []syncproto.Mutation{{Table: "widgets", Type: syncproto.OpInsert, Data: json.RawMessage(`{"id":"w1","name":"first"}`)}},
	}})
	resp := doPush(t, s, "db1", []syncproto.MutationBatch{{
		ID:        "01BBBB",
		Mutations: []syncproto.Mutation{{Table: "widgets", Type: syncproto.OpInsert, Data: json.RawMessage(`{"id":"w1","name":"dup"}`)}},
	}})
	if resp.Accepted != 0 || len(resp.Rejected) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandlePush_ResendingSameBatchIDIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	seedWidgetsTable(t, s, "db1")

	batch := []syncproto.MutationBatch{{
		ID:        "01CCCC",
		Mutations: []syncproto.Mutation{{Table: "widgets", Type: syncproto.OpInsert, Data: json.RawMessage(`{"id":"w2","name":"once"}`)}},
	}}
	first := doPush(t, s, "db1", batch)
	second := doPush(t, s, "db1", batch)
	if first.Acks[0].ServerTimestampMs != second.Acks[0].ServerTimestampMs {
		t.Fatalf("expected identical ack on resend, got %+v vs %+v", first, second)
	}
}

func TestHandlePull_ReturnsAppliedBatchesInOrder(t *testing.T) {
	s := newTestServer(t)
	seedWidgetsTable(t, s, "db1")
	doPush(t, s, "db1", []syncproto.MutationBatch{{
		ID:        "01DDDD",
		Mutations: []syncproto.Mutation{{Table: "widgets", Type: syncproto.OpInsert, Data: json.RawMessage(`{"id":"w3","name":"x"}`)}},
	}})

	req := httptest.NewRequest(http.MethodGet, "/v1/dbs/db1/sync/pull?after_server_seq=0&limit=10", nil)
	req.SetPathValue("db", "db1")
	w := httptest.NewRecorder()
	s.handlePull(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("pull status: %d body: %s", w.Code, w.Body.String())
	}
	var resp pullResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode pull response: %v", err)
	}
	if len(resp.Batches) != 1 || resp.Batches[0].ID != "01DDDD" {
		t.Fatalf("unexpected pull response: %+v", resp)
	}
}
