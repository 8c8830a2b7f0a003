package syncproto

import "encoding/json"

// MutationOp is the kind of row-level change a Mutation carries.
type MutationOp string

const (
	OpInsert MutationOp = "insert"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// NodeInfo identifies the client device/process that originated a batch.
type NodeInfo struct {
	ID   string
	Name string
}

// Mutation is one row-level change queued locally and pushed to the
// server as part of a MutationBatch. Data holds the encoded row after
// the change; Undo holds the encoded row (or relevant prior fields)
// before it, captured in the same local transaction as the write itself
// -- grounded directly on the teacher's internal/sync/events.go capturing
// old-row JSON (applyResult.OldData) before an upsert overwrites it, here
// generalized from a fixed entity set to any TableMeta-declared table.
type Mutation struct {
	Table string
	Type  MutationOp
	Data  json.RawMessage
	Undo  json.RawMessage
}

// MutationBatch groups mutations pushed together under one batch ID
// (client-minted ULID via oklog/ulid, monotonic within a client through
// its own monotonic entropy source) -- the unit the server deduplicates
// on for idempotent retry (spec §4.10/§4.11 rule 2.4).
type MutationBatch struct {
	ID        string
	DBName    string
	Node      NodeInfo
	Mutations []Mutation

	// Server-assigned on acceptance.
	ServerTimestampMs int64
	ColumnTimestamps  map[string]int64 // key "table.column"
}

// PushResult is the server's response to a pushed batch.
type PushResult struct {
	Accepted int
	Acks     []Ack
	Rejected []Rejection
}

// Ack confirms one batch was accepted, carrying the server-assigned
// timestamp and per-column timestamps the client merges into its local
// _column_timestamps bookkeeping.
type Ack struct {
	BatchID           string
	ServerTimestampMs int64
	ColumnTimestamps  map[string]int64
}

// Rejection explains why a batch was refused. ServerSeq/duplicate
// detection mirrors the teacher's InsertServerEvents RowsAffected==0
// check (internal/sync/engine.go): re-pushing an already-applied
// batch_id is recognized as "already applied", not an error.
type Rejection struct {
	BatchID string
	Reason  string
}

// PullResult is the server's response to a Get (pull-new-batches)
// request.
type PullResult struct {
	Batches       []MutationBatch
	LastServerSeq int64
	HasMore       bool
}
