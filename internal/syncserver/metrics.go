package syncserver

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters,
// grounded on the teacher's internal/api.Metrics.
type Metrics struct {
	startTime      time.Time
	requests       atomic.Int64
	serverErrors   atomic.Int64
	clientErrors   atomic.Int64
	batchesPushed  atomic.Int64
	batchesRejected atomic.Int64
	pullRequests   atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Requests        int64   `json:"requests"`
	ServerErrors    int64   `json:"server_errors"`
	ClientErrors    int64   `json:"client_errors"`
	BatchesPushed   int64   `json:"batches_pushed"`
	BatchesRejected int64   `json:"batches_rejected"`
	PullRequests    int64   `json:"pull_requests"`
}

func NewMetrics() *Metrics { return &Metrics{startTime: time.Now()} }

func (m *Metrics) RecordRequest()     { m.requests.Add(1) }
func (m *Metrics) RecordError()       { m.serverErrors.Add(1) }
func (m *Metrics) RecordClientError() { m.clientErrors.Add(1) }
func (m *Metrics) RecordBatchAccepted() { m.batchesPushed.Add(1) }
func (m *Metrics) RecordBatchRejected() { m.batchesRejected.Add(1) }
func (m *Metrics) RecordPullRequest() { m.pullRequests.Add(1) }

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
		Requests:        m.requests.Load(),
		ServerErrors:    m.serverErrors.Load(),
		ClientErrors:    m.clientErrors.Load(),
		BatchesPushed:   m.batchesPushed.Load(),
		BatchesRejected: m.batchesRejected.Load(),
		PullRequests:    m.pullRequests.Load(),
	}
}
