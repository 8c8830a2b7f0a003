package syncserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/syncproto"
)

// skipTable marks a resumeState entry as "fully pulled, do not resend"
// (the client's local state='all' for that table).
const skipTable = -1

type bulkPullRequest struct {
	// ResumeState maps table name to the offset the client wants to
	// resume from; a value of skipTable means the client already has
	// every row for that table and the server should omit it entirely.
	// Tables absent from the map are pulled from offset 0.
	ResumeState map[string]int64 `json:"resume_state"`
}

// handleBulkPull handles POST /v1/dbs/{db}/sync/bulkpull: the resumable
// initial bulk pull (spec §4.9). The response body is a concatenation of
// syncproto frames -- one TagString frame per table followed by zero or
// more TagBinary frames each carrying a gob-encoded ColumnarBatch of that
// table's rows, terminated by a TagEnd frame. Batch size adapts to the
// server's configured memory budget via AdaptiveBatchSizer.
func (s *Server) handleBulkPull(w http.ResponseWriter, r *http.Request) {
	dbName := r.PathValue("db")
	ctx := r.Context()

	var req bulkPullRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
			return
		}
	}

	d, _, err := s.pool.Get(ctx, dbName)
	if err != nil {
		logFor(ctx).Error("open db", "db", dbName, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open database")
		return
	}

	tables, err := listUserTables(ctx, d)
	if err != nil {
		logFor(ctx).Error("list tables", "db", dbName, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tables")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	maxMemoryMb := s.config.MaxMemoryMb
	for _, table := range tables {
		offset, seen := req.ResumeState[table]
		if seen && offset == skipTable {
			continue
		}
		if !seen {
			offset = 0
		}
		if err := syncproto.WriteString(w, table); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if err := streamTable(ctx, w, d, table, offset, maxMemoryMb); err != nil {
			logFor(ctx).Error("stream table", "table", table, "err", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := syncproto.WriteEnd(w); err != nil {
		return
	}
	if flusher != nil {
		flusher.Flush()
	}
}

// streamTable writes table's rows (from offset onward, in rowid order so
// offset-based pagination is stable across requests) as a sequence of
// TagBinary columnar-batch frames, sizing each batch adaptively.
func streamTable(ctx context.Context, w http.ResponseWriter, d driver.Driver, table string, offset int64, maxMemoryMb int) error {
	sizer := syncproto.NewAdaptiveBatchSizer(maxMemoryMb)
	flusher, _ := w.(http.Flusher)
	for {
		n := sizer.NextSize()
		rows, err := d.Run(ctx, driver.RawSQL{
			Query:  "SELECT * FROM " + table + " ORDER BY rowid LIMIT ? OFFSET ?",
			Params: []any{n, offset},
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		batch := syncproto.RowsToColumnarBatch(table, rows)
		encoded, err := syncproto.EncodeColumnarBatch(batch)
		if err != nil {
			return err
		}
		if err := syncproto.WriteFrame(w, syncproto.Frame{Tag: syncproto.TagBinary, Payload: encoded}); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		sizer.Observe(len(encoded), len(rows))
		offset += int64(len(rows))
		if len(rows) < n {
			return nil
		}
	}
}

// reservedServerTables are the server's own bookkeeping tables, never
// part of a client's bulk pull.
var reservedServerTables = map[string]bool{
	"server_mutation_log":      true,
	"server_column_timestamps": true,
	"server_row_deletions":     true,
	"server_row_batches":       true,
	"nodes":                    true,
	"sqlite_sequence":          true,
}

func listUserTables(ctx context.Context, d driver.Driver) ([]string, error) {
	rows, err := d.Run(ctx, driver.RawSQL{
		Query: "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name",
	})
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		if name == "" || reservedServerTables[name] {
			continue
		}
		tables = append(tables, name)
	}
	return tables, nil
}
