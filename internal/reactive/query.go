// Package reactive implements the client-side reactive query cache (spec
// §4.8): fingerprint-keyed Query/Mutation state machines with
// dependency-tracked invalidation, grounded conceptually on the spec's
// own description of a TanStack-Query-shaped API, translated into
// idiomatic Go: generics in place of TypeScript's parametrized hooks,
// context.Context cancellation in place of AbortController, and an
// explicit NotifyFocus method in place of a DOM focus listener (Go has
// no window to attach one to).
package reactive

import (
	"context"
	"sync"
	"time"
)

// Status is a query's current lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Query is one cached, fingerprint-keyed query's state for result type
// TData.
type Query[TData any] struct {
	Key         any
	Fingerprint string
	Status      Status
	Data        TData
	Err         error
	UpdatedAt   time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	fetchFn func(ctx context.Context) (TData, error)
}

// QueryOptions configures a registered query.
type QueryOptions struct {
	StaleTime time.Duration
	CacheTime time.Duration
	Retry     int
	// Disabled skips the fetch entirely: Fetch returns the zero value
	// and a nil error without touching the cache or calling fn, the Go
	// analogue of TanStack Query's enabled:false.
	Disabled bool
}

var defaultOptions = QueryOptions{StaleTime: 0, CacheTime: 5 * time.Minute, Retry: 3}

const maxRetryBackoff = 30 * time.Second

// cacheEntry is the type-erased box a QueryClient stores per fingerprint,
// since the client itself cannot be generic over every TData its callers
// register.
type cacheEntry struct {
	status    Status
	data      any
	err       error
	updatedAt time.Time
	options   QueryOptions
	cancel    context.CancelFunc

	// inflight is non-nil while a fetch is running and is closed when it
	// finishes, so concurrent Fetch calls for the same key block on the
	// one call already in progress instead of each invoking fn.
	inflight chan struct{}

	// subscribers and gcTimer implement cache-time garbage collection:
	// the entry is dropped CacheTime after its last subscriber detaches,
	// the Go analogue of TanStack Query's gcTime.
	subscribers int
	gcTimer     *time.Timer
}

// QueryClient owns the shared cache and the "window focus" analogue: an
// explicit NotifyFocus method the host calls from whatever OS/UI-level
// focus signal it has, rather than an internal DOM listener.
type QueryClient struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	onFocus []func()
}

// NewQueryClient returns an empty QueryClient.
func NewQueryClient() *QueryClient {
	return &QueryClient{entries: make(map[string]*cacheEntry)}
}

// Fetch runs (or returns the cached, still-fresh result of) the query
// identified by key, retrying transient failures per opts.Retry with the
// same base-1s-doubling backoff internal/mutationlog uses for sync
// pushes, and storing the result in the client's cache under key's
// fingerprint.
func Fetch[TData any](ctx context.Context, c *QueryClient, key any, opts QueryOptions, fn func(ctx context.Context) (TData, error)) (TData, error) {
	if opts == (QueryOptions{}) {
		opts = defaultOptions
	}
	var zero TData
	if opts.Disabled {
		return zero, nil
	}
	fp, err := Fingerprint(key)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	if e, ok := c.entries[fp]; ok {
		if e.status == StatusSuccess && time.Since(e.updatedAt) < opts.StaleTime {
			c.mu.Unlock()
			return e.data.(TData), nil
		}
		if e.inflight != nil {
			// Another caller is already fetching this key -- wait for
			// it instead of issuing a second concurrent call to fn.
			wait := e.inflight
			c.mu.Unlock()
			<-wait
			c.mu.Lock()
			defer c.mu.Unlock()
			if e.err != nil {
				return zero, e.err
			}
			return e.data.(TData), nil
		}
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	inflight := make(chan struct{})
	entry := &cacheEntry{status: StatusLoading, options: opts, cancel: cancel, inflight: inflight}
	if prev, ok := c.entries[fp]; ok {
		entry.subscribers = prev.subscribers
	}
	c.entries[fp] = entry
	c.mu.Unlock()

	data, err := fetchWithRetry(fetchCtx, opts.Retry, fn)

	c.mu.Lock()
	entry.inflight = nil
	close(inflight)
	if err != nil {
		entry.status = StatusError
		entry.err = err
		c.mu.Unlock()
		return zero, err
	}
	entry.status = StatusSuccess
	entry.data = data
	entry.updatedAt = time.Now()
	c.mu.Unlock()
	return data, nil
}

// Subscribe registers interest in key's cached entry, canceling any
// pending garbage-collection timer, and returns an unsubscribe func.
// Once the last subscriber unsubscribes, the entry is dropped from the
// cache after its QueryOptions.CacheTime elapses (defaultOptions.
// CacheTime if the key has no entry yet).
func (c *QueryClient) Subscribe(key any) (func(), error) {
	fp, err := Fingerprint(key)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	e, ok := c.entries[fp]
	if !ok {
		e = &cacheEntry{status: StatusIdle, options: defaultOptions}
		c.entries[fp] = e
	}
	e.subscribers++
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			// Fetch may have replaced the entry this call subscribed to,
			// carrying its subscriber count over; release the current one.
			e, ok := c.entries[fp]
			if !ok || e.subscribers == 0 {
				return
			}
			e.subscribers--
			if e.subscribers > 0 {
				return
			}
			cacheTime := e.options.CacheTime
			e.gcTimer = time.AfterFunc(cacheTime, func() {
				c.mu.Lock()
				defer c.mu.Unlock()
				if c.entries[fp] == e && e.subscribers == 0 {
					delete(c.entries, fp)
				}
			})
		})
	}, nil
}

// Invalidate drops fingerprint's cached entry so the next Fetch call
// re-runs it instead of serving stale data.
func (c *QueryClient) Invalidate(key any) error {
	fp, err := Fingerprint(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fp]; ok {
		if e.cancel != nil {
			e.cancel()
		}
		delete(c.entries, fp)
	}
	return nil
}

// Cancel aborts any in-flight fetch for key via its context.CancelFunc --
// the Go realization of AbortController.abort().
func (c *QueryClient) Cancel(key any) error {
	fp, err := Fingerprint(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fp]; ok && e.cancel != nil {
		e.cancel()
	}
	return nil
}

// NotifyFocus fires every registered focus callback -- call this from
// whatever the embedding application's own "became active" signal is
// (an OS foreground event, a reconnect handler, a cron tick). There is no
// window/DOM in Go, so this replaces the browser's implicit
// visibilitychange listener with an explicit call the host must make.
func (c *QueryClient) NotifyFocus() {
	c.mu.Lock()
	callbacks := append([]func(){}, c.onFocus...)
	c.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}

// OnFocus registers cb to run on every NotifyFocus call.
func (c *QueryClient) OnFocus(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFocus = append(c.onFocus, cb)
}

func fetchWithRetry[TData any](ctx context.Context, retries int, fn func(ctx context.Context) (TData, error)) (TData, error) {
	var zero TData
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		data, err := fn(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
	return zero, lastErr
}
