// Package enrich resolves skeleton user ids into full profiles while an
// archive is being ingested. Requests are batched and fired in the
// background so ingestion never blocks on the network.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Profile is the resolved form of one user id. Avatar holds the raw image
// bytes so the store can serve it without ever touching the network again.
type Profile struct {
	ID           string
	Handle       string
	DisplayName  string
	Bio          string
	Avatar       []byte
	AvatarFormat string
}

// Source performs one bulk profile lookup. Ids absent from the result are
// treated as deleted or suspended accounts.
type Source interface {
	Lookup(ctx context.Context, ids []string) ([]Profile, error)
}

// NoopSource resolves nothing. Used when no API credentials are configured;
// every user stays a skeleton with default rendering.
type NoopSource struct{}

func (NoopSource) Lookup(ctx context.Context, ids []string) ([]Profile, error) {
	return nil, nil
}

// Callback receives the outcome for one requested id. A nil profile means
// the id could not be resolved. Each callback runs exactly once, from the
// goroutine that completed the batch.
type Callback func(*Profile)

const (
	// BatchSize matches the lookup endpoint's maximum ids per request.
	BatchSize = 100
	// MaxInFlight bounds concurrent lookup requests.
	MaxInFlight = 10
)

// Client coalesces Enqueue calls into batches of BatchSize and dispatches
// them with at most MaxInFlight requests running at once. Enqueueing an id
// that is already pending attaches another callback instead of requesting
// it twice.
type Client struct {
	source Source
	logger *slog.Logger

	mu      sync.Mutex
	order   []string
	pending map[string][]Callback

	sem chan struct{}
	wg  sync.WaitGroup

	errMu sync.Mutex
	errs  []error
}

func NewClient(source Source, logger *slog.Logger) *Client {
	return &Client{
		source:  source,
		logger:  logger,
		pending: make(map[string][]Callback),
		sem:     make(chan struct{}, MaxInFlight),
	}
}

// Enqueue registers interest in one user id. The callback fires exactly once,
// some time between now and the return of Flush.
func (c *Client) Enqueue(ctx context.Context, id string, cb Callback) {
	c.mu.Lock()
	if _, already := c.pending[id]; !already {
		c.order = append(c.order, id)
	}
	c.pending[id] = append(c.pending[id], cb)
	var batch map[string][]Callback
	if len(c.order) >= BatchSize {
		batch = c.takeBatchLocked(BatchSize)
	}
	c.mu.Unlock()

	if batch != nil {
		c.dispatch(ctx, batch)
	}
}

// Flush dispatches whatever is still queued, waits for every in-flight
// request, and reports the first errors any of them hit. Callbacks for
// failed batches still fire, with nil.
func (c *Client) Flush(ctx context.Context) error {
	for {
		c.mu.Lock()
		if len(c.order) == 0 {
			c.mu.Unlock()
			break
		}
		n := len(c.order)
		if n > BatchSize {
			n = BatchSize
		}
		batch := c.takeBatchLocked(n)
		c.mu.Unlock()
		c.dispatch(ctx, batch)
	}

	c.wg.Wait()

	c.errMu.Lock()
	defer c.errMu.Unlock()
	return errors.Join(c.errs...)
}

// takeBatchLocked removes the first n queued ids along with their callbacks.
func (c *Client) takeBatchLocked(n int) map[string][]Callback {
	batch := make(map[string][]Callback, n)
	for _, id := range c.order[:n] {
		batch[id] = c.pending[id]
		delete(c.pending, id)
	}
	c.order = c.order[n:]
	return batch
}

func (c *Client) dispatch(ctx context.Context, batch map[string][]Callback) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			c.fail(ctx.Err(), batch)
			return
		}
		defer func() { <-c.sem }()

		ids := make([]string, 0, len(batch))
		for id := range batch {
			ids = append(ids, id)
		}

		profiles, err := c.source.Lookup(ctx, ids)
		if err != nil {
			c.logger.Error("profile_lookup_failed", "ids", len(ids), "error", err)
			c.fail(err, batch)
			return
		}

		found := make(map[string]*Profile, len(profiles))
		for i := range profiles {
			found[profiles[i].ID] = &profiles[i]
		}
		resolved := 0
		for id, cbs := range batch {
			p := found[id]
			if p != nil {
				resolved++
			}
			for _, cb := range cbs {
				cb(p)
			}
		}
		c.logger.Debug("profile_batch_done", "requested", len(ids), "resolved", resolved)
	}()
}

// fail delivers nil to every callback in the batch and records the error.
func (c *Client) fail(err error, batch map[string][]Callback) {
	c.errMu.Lock()
	c.errs = append(c.errs, err)
	c.errMu.Unlock()
	for _, cbs := range batch {
		for _, cb := range cbs {
			cb(nil)
		}
	}
}
