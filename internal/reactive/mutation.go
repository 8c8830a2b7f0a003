package reactive

import (
	"context"
	"sync"
)

// Mutation wraps a single imperative write operation taking TVars and
// producing TData, tracking its own in-flight status independent of the
// QueryClient cache (mutations are not cached/fingerprinted -- only
// queries are).
type Mutation[TVars any, TData any] struct {
	mu           sync.Mutex
	Status       Status
	Data         TData
	Err          error
	failureCount int

	mutateFn    func(ctx context.Context, vars TVars) (TData, error)
	onMutate    func(TVars)
	onSuccess   func(TData)
	onError     func(error)
	onSettled   func(TData, error)
	invalidates []any
	client      *QueryClient
}

// NewMutation builds a Mutation bound to fn; client may be nil if the
// mutation never needs to invalidate cached queries.
func NewMutation[TVars any, TData any](client *QueryClient, fn func(ctx context.Context, vars TVars) (TData, error)) *Mutation[TVars, TData] {
	return &Mutation[TVars, TData]{mutateFn: fn, client: client}
}

// OnMutate registers a callback fired synchronously before mutateFn
// runs, given the variables about to be submitted -- the hook point for
// optimistic updates.
func (m *Mutation[TVars, TData]) OnMutate(cb func(TVars)) *Mutation[TVars, TData] {
	m.onMutate = cb
	return m
}

// OnSuccess/OnError register callbacks invoked after Mutate resolves.
func (m *Mutation[TVars, TData]) OnSuccess(cb func(TData)) *Mutation[TVars, TData] {
	m.onSuccess = cb
	return m
}
func (m *Mutation[TVars, TData]) OnError(cb func(error)) *Mutation[TVars, TData] {
	m.onError = cb
	return m
}

// OnSettled registers a callback fired after OnSuccess/OnError, with
// whichever of (data, err) applies -- the one hook guaranteed to run on
// every Mutate call regardless of outcome.
func (m *Mutation[TVars, TData]) OnSettled(cb func(TData, error)) *Mutation[TVars, TData] {
	m.onSettled = cb
	return m
}

// Invalidates registers query keys to invalidate on the client after a
// successful mutation.
func (m *Mutation[TVars, TData]) Invalidates(keys ...any) *Mutation[TVars, TData] {
	m.invalidates = append(m.invalidates, keys...)
	return m
}

// Mutate runs the mutation once (no retry -- mutations are not safely
// retryable in general, matching the spec's push-path handling of
// mutations via its own idempotent batch/ack protocol in
// internal/mutationlog rather than this layer's blind retry).
func (m *Mutation[TVars, TData]) Mutate(ctx context.Context, vars TVars) (TData, error) {
	m.mu.Lock()
	m.Status = StatusLoading
	onMutate := m.onMutate
	m.mu.Unlock()

	if onMutate != nil {
		onMutate(vars)
	}

	data, err := m.mutateFn(ctx, vars)

	m.mu.Lock()
	if err != nil {
		m.Status = StatusError
		m.Err = err
		m.failureCount++
	} else {
		m.Status = StatusSuccess
		m.Data = data
	}
	onSuccess, onError, onSettled := m.onSuccess, m.onError, m.onSettled
	client, invalidates := m.client, m.invalidates
	m.mu.Unlock()

	if err != nil {
		if onError != nil {
			onError(err)
		}
		if onSettled != nil {
			onSettled(data, err)
		}
		return data, err
	}
	if onSuccess != nil {
		onSuccess(data)
	}
	if client != nil {
		for _, key := range invalidates {
			_ = client.Invalidate(key)
		}
	}
	if onSettled != nil {
		onSettled(data, nil)
	}
	return data, nil
}

// FailureCount returns how many times Mutate has failed for this
// Mutation instance since it was created or last Reset.
func (m *Mutation[TVars, TData]) FailureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failureCount
}

// Reset clears Status/Data/Err/FailureCount back to their zero values,
// as if Mutate had never been called.
func (m *Mutation[TVars, TData]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zeroData TData
	m.Status = StatusIdle
	m.Data = zeroData
	m.Err = nil
	m.failureCount = 0
}
