package syncserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/marcus/ormsync/internal/conflict"
	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/syncproto"
)

const (
	maxBatchesPerPush = 1000
	defaultPullLimit  = 1000
	maxPullLimit      = 10000
)

type pushRequest struct {
	Batches []syncproto.MutationBatch `json:"batches"`
}

type pushResponse struct {
	Accepted int                   `json:"accepted"`
	Acks     []syncproto.Ack       `json:"acks"`
	Rejected []syncproto.Rejection `json:"rejected,omitempty"`
}

type pullResponse struct {
	Batches       []syncproto.MutationBatch `json:"batches"`
	LastServerSeq int64                     `json:"last_server_seq"`
	HasMore       bool                      `json:"has_more"`
}

type statusResponse struct {
	BatchCount    int64  `json:"batch_count"`
	LastServerSeq int64  `json:"last_server_seq"`
	LastBatchTime string `json:"last_batch_time,omitempty"`
}

// handlePush handles POST /v1/dbs/{db}/sync/push: applies every batch in
// its own transaction (spec §4.11's batch-atomicity rule), resolving
// conflicts per mutation via internal/conflict before committing, and
// deduping already-applied batches by batch_id so a re-sent push is
// idempotent rather than double-applied.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	dbName := r.PathValue("db")

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if len(req.Batches) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "batches array is empty")
		return
	}
	if len(req.Batches) > maxBatchesPerPush {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("batch count %d exceeds max %d", len(req.Batches), maxBatchesPerPush))
		return
	}

	ctx := r.Context()
	d, store, err := s.pool.Get(ctx, dbName)
	if err != nil {
		logFor(ctx).Error("open db", "db", dbName, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open database")
		return
	}
	nodeID := nodeIDFromContext(ctx)

	var resp pushResponse
	for _, batch := range req.Batches {
		if batch.Node.ID == "" {
			batch.Node.ID = nodeID
		}
		ack, rejection, err := applyBatch(ctx, d, store, dbName, batch)
		if err != nil {
			logFor(ctx).Error("apply batch", "batch", batch.ID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to apply batch")
			return
		}
		if rejection != nil {
			resp.Rejected = append(resp.Rejected, *rejection)
			s.metrics.RecordBatchRejected()
			continue
		}
		resp.Accepted++
		resp.Acks = append(resp.Acks, *ack)
		s.metrics.RecordBatchAccepted()
	}

	writeJSON(w, http.StatusOK, resp)
}

// applyBatch applies one batch's mutations in a single transaction,
// rejecting the whole batch if any mutation is refused by conflict
// resolution. Re-sent batches (same batch_id already in
// server_mutation_log) return the original ack without re-applying.
func applyBatch(ctx context.Context, d driver.Driver, store *conflict.SQLStore, dbName string, batch syncproto.MutationBatch) (*syncproto.Ack, *syncproto.Rejection, error) {
	tx, err := d.BeginTx(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := tx.Run(ctx, driver.RawSQL{
		Query:  "SELECT server_timestamp_ms FROM server_mutation_log WHERE batch_id = ?",
		Params: []any{batch.ID},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("check duplicate batch: %w", err)
	}
	if len(existing) > 0 {
		return &syncproto.Ack{BatchID: batch.ID, ServerTimestampMs: toInt64(existing[0]["server_timestamp_ms"])}, nil, nil
	}

	t := time.Now().UnixMilli()
	txStore := store.InTx(tx)
	columnTimestamps := make(map[string]int64)

	for _, m := range batch.Mutations {
		fields, err := decodeFields(m.Data)
		if err != nil {
			return nil, &syncproto.Rejection{BatchID: batch.ID, Reason: "malformed mutation payload"}, nil
		}
		rowPK, ok := fields["id"].(string)
		if !ok || rowPK == "" {
			return nil, &syncproto.Rejection{BatchID: batch.ID, Reason: "mutation missing row id"}, nil
		}

		// Rule 3: if this row already carries a later-sorting batch ID
		// than the one we're about to apply, this mutation arrived out
		// of order relative to its own dependency chain (e.g. an update
		// racing ahead of the insert it depends on). Reject the whole
		// batch so the caller's transaction rolls back cleanly; the
		// client's push loop archives the rejected batch in
		// _failed_mutations and undoes it locally. It is not re-pushed
		// or re-applied later.
		if priorBatchID, ok, err := txStore.LastAppliedBatch(ctx, m.Table, rowPK); err != nil {
			return nil, nil, fmt.Errorf("check row batch order: %w", err)
		} else if ok && conflict.DetectOutOfOrder(batch.ID, priorBatchID) {
			return nil, &syncproto.Rejection{BatchID: batch.ID, Reason: "mutation arrived out of order, retry after dependency applies"}, nil
		}

		switch m.Type {
		case syncproto.OpInsert:
			outcome, err := conflict.ResolveInsert(ctx, txStore, m.Table, rowPK)
			if err != nil {
				return nil, nil, fmt.Errorf("resolve insert: %w", err)
			}
			if !outcome.Accept {
				return nil, &syncproto.Rejection{BatchID: batch.ID, Reason: outcome.Reason}, nil
			}
			if err := execInsert(ctx, tx, m.Table, fields); err != nil {
				return nil, &syncproto.Rejection{BatchID: batch.ID, Reason: "insert rejected: " + err.Error()}, nil
			}
			if err := txStore.SetLastAppliedBatch(ctx, m.Table, rowPK, batch.ID); err != nil {
				return nil, nil, err
			}
			for col := range fields {
				if col == "id" {
					continue
				}
				if err := txStore.SetColumnTimestamp(ctx, m.Table, rowPK, col, t); err != nil {
					return nil, nil, err
				}
				columnTimestamps[m.Table+":"+rowPK+":"+col] = t
			}

		case syncproto.OpUpdate:
			cols := make([]string, 0, len(fields))
			for col := range fields {
				if col != "id" {
					cols = append(cols, col)
				}
			}
			outcome, err := conflict.ResolveUpdate(ctx, txStore, m.Table, rowPK, cols, t)
			if err != nil {
				return nil, nil, fmt.Errorf("resolve update: %w", err)
			}
			if !outcome.Accept {
				return nil, &syncproto.Rejection{BatchID: batch.ID, Reason: outcome.Reason}, nil
			}
			if len(outcome.AppliedColumns) > 0 {
				if err := execUpdate(ctx, tx, m.Table, rowPK, fields, outcome.AppliedColumns); err != nil {
					return nil, &syncproto.Rejection{BatchID: batch.ID, Reason: "update rejected: " + err.Error()}, nil
				}
				if err := txStore.SetLastAppliedBatch(ctx, m.Table, rowPK, batch.ID); err != nil {
					return nil, nil, err
				}
			}
			for col := range outcome.AppliedColumns {
				columnTimestamps[m.Table+":"+rowPK+":"+col] = t
			}

		case syncproto.OpDelete:
			outcome, err := conflict.ResolveDelete(ctx, txStore, m.Table, rowPK, t)
			if err != nil {
				return nil, nil, fmt.Errorf("resolve delete: %w", err)
			}
			if !outcome.Accept {
				return nil, &syncproto.Rejection{BatchID: batch.ID, Reason: outcome.Reason}, nil
			}
			if !outcome.NoOp {
				if err := execDelete(ctx, tx, m.Table, rowPK); err != nil {
					return nil, &syncproto.Rejection{BatchID: batch.ID, Reason: "delete rejected: " + err.Error()}, nil
				}
				if err := txStore.SetLastAppliedBatch(ctx, m.Table, rowPK, batch.ID); err != nil {
					return nil, nil, err
				}
			}

		default:
			return nil, &syncproto.Rejection{BatchID: batch.ID, Reason: "unknown mutation type"}, nil
		}
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal batch: %w", err)
	}
	if _, err := tx.Run(ctx, driver.RawSQL{
		Query:  "INSERT INTO server_mutation_log (batch_id, db_name, node_id, payload_json, server_timestamp_ms) VALUES (?, ?, ?, ?, ?)",
		Params: []any{batch.ID, dbName, batch.Node.ID, string(payload), t},
	}); err != nil {
		return nil, nil, fmt.Errorf("record batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit batch: %w", err)
	}

	return &syncproto.Ack{BatchID: batch.ID, ServerTimestampMs: t, ColumnTimestamps: columnTimestamps}, nil, nil
}

func decodeFields(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func execInsert(ctx context.Context, tx driver.Tx, table string, fields map[string]any) error {
	cols := make([]string, 0, len(fields))
	for col := range fields {
		cols = append(cols, col)
	}
	placeholders := make([]string, len(cols))
	params := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		params[i] = fields[col]
	}
	query := "INSERT INTO " + table + " (" + joinIdents(cols) + ") VALUES (" + joinStrings(placeholders) + ")"
	_, err := tx.Run(ctx, driver.RawSQL{Query: query, Params: params})
	return err
}

func execUpdate(ctx context.Context, tx driver.Tx, table, rowPK string, fields map[string]any, applied map[string]bool) error {
	cols := make([]string, 0, len(applied))
	for col := range applied {
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return nil
	}
	setClauses := make([]string, len(cols))
	params := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		setClauses[i] = col + " = ?"
		params = append(params, fields[col])
	}
	params = append(params, rowPK)
	query := "UPDATE " + table + " SET " + joinStrings(setClauses) + " WHERE id = ?"
	_, err := tx.Run(ctx, driver.RawSQL{Query: query, Params: params})
	return err
}

func execDelete(ctx context.Context, tx driver.Tx, table, rowPK string) error {
	_, err := tx.Run(ctx, driver.RawSQL{Query: "DELETE FROM " + table + " WHERE id = ?", Params: []any{rowPK}})
	return err
}

func joinIdents(cols []string) string { return joinStrings(cols) }

func joinStrings(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// handlePull handles GET /v1/dbs/{db}/sync/pull: returns batches applied
// on the server after after_server_seq, in server order, for the
// client's get loop (spec §4.10).
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordPullRequest()
	dbName := r.PathValue("db")

	afterSeq := int64(0)
	if v := r.URL.Query().Get("after_server_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid after_server_seq")
			return
		}
		afterSeq = n
	}
	limit := defaultPullLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
		if n > maxPullLimit {
			n = maxPullLimit
		}
		limit = n
	}

	ctx := r.Context()
	d, _, err := s.pool.Get(ctx, dbName)
	if err != nil {
		logFor(ctx).Error("open db", "db", dbName, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open database")
		return
	}

	rows, err := d.Run(ctx, driver.RawSQL{
		Query:  "SELECT server_seq, payload_json FROM server_mutation_log WHERE server_seq > ? ORDER BY server_seq ASC LIMIT ?",
		Params: []any{afterSeq, limit},
	})
	if err != nil {
		logFor(ctx).Error("query mutation log", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to query mutation log")
		return
	}

	resp := pullResponse{LastServerSeq: afterSeq}
	for _, row := range rows {
		var batch syncproto.MutationBatch
		payload, _ := row["payload_json"].(string)
		if err := json.Unmarshal([]byte(payload), &batch); err != nil {
			logFor(ctx).Error("decode batch payload", "err", err)
			continue
		}
		resp.Batches = append(resp.Batches, batch)
		resp.LastServerSeq = toInt64(row["server_seq"])
	}
	resp.HasMore = len(resp.Batches) == limit

	writeJSON(w, http.StatusOK, resp)
}

// handleStatus handles GET /v1/dbs/{db}/sync/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	dbName := r.PathValue("db")
	ctx := r.Context()
	d, _, err := s.pool.Get(ctx, dbName)
	if err != nil {
		logFor(ctx).Error("open db", "db", dbName, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open database")
		return
	}

	rows, err := d.Run(ctx, driver.RawSQL{
		Query: "SELECT COUNT(*) AS n, COALESCE(MAX(server_seq), 0) AS max_seq FROM server_mutation_log",
	})
	if err != nil {
		logFor(ctx).Error("query status", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "database error")
		return
	}
	resp := statusResponse{}
	if len(rows) > 0 {
		resp.BatchCount = toInt64(rows[0]["n"])
		resp.LastServerSeq = toInt64(rows[0]["max_seq"])
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSnapshot handles GET /v1/dbs/{db}/sync/snapshot: streams the raw
// SQLite file for bootstrap. Unlike the teacher's event-sourced snapshot
// (which replays an append-only event log into a fresh database), this
// server stores live table state directly, so the current file itself
// -- checkpointed to flush the WAL -- already is the snapshot; no
// rebuild-by-replay step is needed.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	dbName := r.PathValue("db")
	ctx := r.Context()
	d, _, err := s.pool.Get(ctx, dbName)
	if err != nil {
		logFor(ctx).Error("open db", "db", dbName, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open database")
		return
	}

	var lastSeq int64
	rows, err := d.Run(ctx, driver.RawSQL{Query: "SELECT COALESCE(MAX(server_seq), 0) AS max_seq FROM server_mutation_log"})
	if err == nil && len(rows) > 0 {
		lastSeq = toInt64(rows[0]["max_seq"])
	}

	if err := d.Exec(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logFor(ctx).Warn("checkpoint before snapshot", "err", err)
	}

	path := filepath.Join(s.config.DataDir, dbName, "sync.db")
	f, err := os.Open(path)
	if err != nil {
		logFor(ctx).Error("open snapshot file", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read snapshot")
		return
	}
	defer f.Close()

	stat, _ := f.Stat()
	w.Header().Set("Content-Type", "application/x-sqlite3")
	w.Header().Set("X-Snapshot-Seq", strconv.FormatInt(lastSeq, 10))
	w.Header().Set("Content-Length", strconv.FormatInt(stat.Size(), 10))
	w.WriteHeader(http.StatusOK)
	buf := make([]byte, 64*1024)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
		}
		if readErr != nil {
			return
		}
	}
}
