package driver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Limits bounds the parameters-per-statement and statements-per-batch a
// back-end accepts, defaulting to the cloud-SQL-like limits named in the
// spec; engines with no such cap (e.g. local SQLite) may set these very
// high.
type Limits struct {
	MaxParametersPerStatement int
	MaxStatementsPerBatch     int
}

// DefaultCloudLimits mirrors the spec's named cloud-SQL defaults.
var DefaultCloudLimits = Limits{MaxParametersPerStatement: 100, MaxStatementsPerBatch: 50}

// ChunkingDriver wraps any Driver and enforces Limits by splitting
// over-limit INSERTs into multiple statements with identical
// prefix/suffix and a matching number of value-group templates, and by
// chunking over-limit batches, concatenating results per original
// statement index.
type ChunkingDriver struct {
	inner  Driver
	limits Limits
}

// NewChunkingDriver wraps inner with the given Limits.
func NewChunkingDriver(inner Driver, limits Limits) *ChunkingDriver {
	return &ChunkingDriver{inner: inner, limits: limits}
}

func (c *ChunkingDriver) Exec(ctx context.Context, sqlText string) error {
	return c.inner.Exec(ctx, sqlText)
}

func (c *ChunkingDriver) Close() error { return c.inner.Close() }

func (c *ChunkingDriver) Run(ctx context.Context, frag RawSQL) ([]Row, error) {
	if len(frag.Params) <= c.limits.MaxParametersPerStatement {
		return c.inner.Run(ctx, frag)
	}
	chunks, err := chunkInsert(frag, c.limits.MaxParametersPerStatement)
	if err != nil {
		// Not a chunkable multi-row INSERT; pass through and let the
		// underlying engine surface its own error.
		return c.inner.Run(ctx, frag)
	}
	var all []Row
	for _, chunk := range chunks {
		rows, err := c.inner.Run(ctx, chunk)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}

func (c *ChunkingDriver) Batch(ctx context.Context, frags []RawSQL) ([][]Row, error) {
	if len(frags) <= c.limits.MaxStatementsPerBatch {
		return c.inner.Batch(ctx, frags)
	}
	out := make([][]Row, 0, len(frags))
	for start := 0; start < len(frags); start += c.limits.MaxStatementsPerBatch {
		end := start + c.limits.MaxStatementsPerBatch
		if end > len(frags) {
			end = len(frags)
		}
		results, err := c.inner.Batch(ctx, frags[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, results...)
	}
	return out, nil
}

func (c *ChunkingDriver) BeginTx(ctx context.Context) (Tx, error) {
	return c.inner.BeginTx(ctx)
}

var insertValuesRE = regexp.MustCompile(`(?is)^(INSERT\s+INTO\s+[^\(]+\([^)]*\)\s*VALUES\s*)(.+?)(\s*(?:ON\s+CONFLICT.*)?);?\s*$`)
var valueGroupRE = regexp.MustCompile(`\(([^()]*)\)`)

// chunkInsert splits a multi-row INSERT statement, whose parameter count
// exceeds maxParams, into several INSERTs each within the limit, by
// dividing its comma-separated "(?,?,...)" value groups.
func chunkInsert(frag RawSQL, maxParams int) ([]RawSQL, error) {
	m := insertValuesRE.FindStringSubmatch(frag.Query)
	if m == nil {
		return nil, fmt.Errorf("driver: cannot chunk non-multi-row-INSERT statement")
	}
	prefix, valuesBlock, suffix := m[1], m[2], m[3]

	groups := valueGroupRE.FindAllString(valuesBlock, -1)
	if len(groups) == 0 {
		return nil, fmt.Errorf("driver: no value groups found to chunk")
	}
	paramsPerGroup := strings.Count(groups[0], "?")
	if paramsPerGroup == 0 {
		return nil, fmt.Errorf("driver: cannot determine params per value group")
	}
	groupsPerChunk := maxParams / paramsPerGroup
	if groupsPerChunk < 1 {
		groupsPerChunk = 1
	}

	var chunks []RawSQL
	paramIdx := 0
	for start := 0; start < len(groups); start += groupsPerChunk {
		end := start + groupsPerChunk
		if end > len(groups) {
			end = len(groups)
		}
		chunkGroups := groups[start:end]
		nParams := paramsPerGroup * len(chunkGroups)
		chunks = append(chunks, RawSQL{
			Query:  prefix + strings.Join(chunkGroups, ", ") + suffix,
			Params: frag.Params[paramIdx : paramIdx+nParams],
		})
		paramIdx += nParams
	}
	return chunks, nil
}
