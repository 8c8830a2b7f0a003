package mutationlog

import "context"

// OnlineDetector reports whether the remote is currently reachable, so
// the push loop can avoid hammering a known-offline server with retries.
type OnlineDetector interface {
	IsOnline(ctx context.Context) bool
}

// PingFunc adapts a bare function to OnlineDetector.
type PingFunc func(ctx context.Context) bool

func (f PingFunc) IsOnline(ctx context.Context) bool { return f(ctx) }
