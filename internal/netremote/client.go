// Package netremote implements the HTTP client side of the sync wire
// protocol (spec §6's RemoteDb): pushing mutation batches, pulling
// server-ordered batches, checking sync status, and downloading a full
// snapshot for bootstrap. Grounded on the teacher's
// internal/syncclient.Client (same request/response/error-mapping
// shape), adapted from per-event push/pull to per-batch MutationBatch
// push/pull.
package netremote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/marcus/ormsync/internal/ormerrors"
	"github.com/marcus/ormsync/internal/syncproto"
)

// Sentinel errors for the HTTP error classes callers may want to branch
// on, mirroring the teacher's syncclient sentinels.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Client is an HTTP client for a sync server (internal/syncserver).
type Client struct {
	BaseURL string
	APIKey  string
	DBName  string
	HTTP    *http.Client
}

// New creates a Client for one database, with a 30s request timeout
// matching the teacher's syncclient default.
func New(baseURL, apiKey, dbName string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		DBName:  dbName,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// pushRequest/pushResponse and pullResponse mirror the wire shapes
// internal/syncserver's HTTP handlers decode/encode.
type pushRequest struct {
	Batches []syncproto.MutationBatch `json:"batches"`
}

type pushResponse struct {
	Accepted int                 `json:"accepted"`
	Acks     []syncproto.Ack     `json:"acks"`
	Rejected []syncproto.Rejection `json:"rejected,omitempty"`
}

type pullResponse struct {
	Batches       []syncproto.MutationBatch `json:"batches"`
	LastServerSeq int64                     `json:"last_server_seq"`
	HasMore       bool                      `json:"has_more"`
}

// StatusResponse is the response from GET /v1/dbs/{db}/sync/status.
type StatusResponse struct {
	BatchCount    int64  `json:"batch_count"`
	LastServerSeq int64  `json:"last_server_seq"`
	LastBatchTime string `json:"last_batch_time,omitempty"`
}

// SnapshotResult holds the bytes and sequence of a downloaded snapshot.
type SnapshotResult struct {
	Data        []byte
	SnapshotSeq int64
}

// bulkPullRequest mirrors the wire shape internal/syncserver's bulk-pull
// handler decodes; a value of -1 means the client already has every row
// for that table (its local _sync_pull_progress state is 'all') and the
// server should not resend it.
type bulkPullRequest struct {
	ResumeState map[string]int64 `json:"resume_state"`
}

// SkipTable is the ResumeState sentinel marking a table as already fully
// pulled.
const SkipTable int64 = -1

// BulkPullSink receives decoded frames from BulkPull as they stream off
// the wire, one table at a time: BeginTable, then zero or more
// ApplyBatch calls for that table's rows, then EndTable once the next
// table's STRING frame (or the stream's end-marker) arrives.
// internal/mutationlog.BulkPuller implements this by inserting each
// batch's rows and advancing _sync_pull_progress.
type BulkPullSink interface {
	BeginTable(ctx context.Context, table string) error
	ApplyBatch(ctx context.Context, table string, batch syncproto.ColumnarBatch) error
	EndTable(ctx context.Context, table string) error
}

// BulkPull streams the initial/resumed bulk pull (spec §4.9) from the
// server, dispatching each table's frames to sink as they arrive rather
// than buffering the whole response -- a single table can hold far more
// rows than fit comfortably in memory at once.
func (c *Client) BulkPull(ctx context.Context, resumeState map[string]int64, sink BulkPullSink) error {
	body, err := json.Marshal(bulkPullRequest{ResumeState: resumeState})
	if err != nil {
		return fmt.Errorf("netremote: marshal bulk pull request: %w", err)
	}
	path := fmt.Sprintf("/v1/dbs/%s/sync/bulkpull", url.PathEscape(c.DBName))
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("netremote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &ormerrors.NetworkError{Op: "bulkpull", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("netremote: bulk pull: HTTP %d: %s", resp.StatusCode, string(data))
	}

	var currentTable string
	for {
		frame, err := syncproto.ReadFrame(resp.Body)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("netremote: read bulk pull frame: %w", err)
		}
		switch frame.Tag {
		case syncproto.TagEnd:
			if currentTable != "" {
				if err := sink.EndTable(ctx, currentTable); err != nil {
					return err
				}
			}
			return nil
		case syncproto.TagString:
			if currentTable != "" {
				if err := sink.EndTable(ctx, currentTable); err != nil {
					return err
				}
			}
			currentTable = string(frame.Payload)
			if err := sink.BeginTable(ctx, currentTable); err != nil {
				return err
			}
		case syncproto.TagBinary:
			batch, err := syncproto.DecodeColumnarBatch(frame.Payload)
			if err != nil {
				return fmt.Errorf("netremote: decode bulk pull batch: %w", err)
			}
			if err := sink.ApplyBatch(ctx, currentTable, batch); err != nil {
				return err
			}
		}
	}
}

// Send implements mutationlog.Sender: pushes a set of batches and
// returns the server's accept/reject decisions.
func (c *Client) Send(ctx context.Context, batches []syncproto.MutationBatch) (syncproto.PushResult, error) {
	var resp pushResponse
	req := pushRequest{Batches: batches}
	path := fmt.Sprintf("/v1/dbs/%s/sync/push", url.PathEscape(c.DBName))
	if err := c.do(ctx, "POST", path, req, &resp); err != nil {
		return syncproto.PushResult{}, err
	}
	return syncproto.PushResult{Accepted: resp.Accepted, Acks: resp.Acks, Rejected: resp.Rejected}, nil
}

// Pull fetches batches applied on the server after afterServerSeq, up to
// limit batches.
func (c *Client) Pull(ctx context.Context, afterServerSeq int64, limit int) (syncproto.PullResult, error) {
	params := url.Values{}
	params.Set("after_server_seq", strconv.FormatInt(afterServerSeq, 10))
	params.Set("limit", strconv.Itoa(limit))

	var resp pullResponse
	path := fmt.Sprintf("/v1/dbs/%s/sync/pull?%s", url.PathEscape(c.DBName), params.Encode())
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return syncproto.PullResult{}, err
	}
	return syncproto.PullResult{Batches: resp.Batches, LastServerSeq: resp.LastServerSeq, HasMore: resp.HasMore}, nil
}

// Status reports the server's current batch count and sequence cursor.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	path := fmt.Sprintf("/v1/dbs/%s/sync/status", url.PathEscape(c.DBName))
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

// Snapshot downloads a full-database snapshot for bootstrap, reading the
// snapshot sequence from the X-Snapshot-Seq response header.
func (c *Client) Snapshot(ctx context.Context) (*SnapshotResult, error) {
	path := fmt.Sprintf("/v1/dbs/%s/sync/snapshot", url.PathEscape(c.DBName))
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("netremote: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &ormerrors.NetworkError{Op: "snapshot", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("netremote: snapshot: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("netremote: read snapshot: %w", err)
	}
	seqStr := resp.Header.Get("X-Snapshot-Seq")
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("netremote: parse X-Snapshot-Seq %q: %w", seqStr, err)
	}
	return &SnapshotResult{Data: data, SnapshotSeq: seq}, nil
}

// apiError is the standard error body the server returns.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// errorResponse is the server's wire envelope: {"error": {"code":...}}.
type errorResponse struct {
	Error apiError `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("netremote: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("netremote: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &ormerrors.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ormerrors.NetworkError{Op: "read response", Err: err}
	}

	if resp.StatusCode >= 400 {
		var env errorResponse
		if json.Unmarshal(respBody, &env) == nil && env.Error.Code != "" {
			apiErr := env.Error
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
			case http.StatusForbidden:
				return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
			default:
				if resp.StatusCode >= 500 {
					return &ormerrors.NetworkError{Op: method + " " + path, Err: &apiErr}
				}
				return &apiErr
			}
		}
		if resp.StatusCode >= 500 {
			return &ormerrors.NetworkError{Op: method + " " + path, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("netremote: unmarshal response: %w", err)
		}
	}
	return nil
}
