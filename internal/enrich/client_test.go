package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSource remembers the batches it was asked for and resolves the
// ids in its profiles map.
type recordingSource struct {
	mu       sync.Mutex
	batches  [][]string
	profiles map[string]Profile
	err      error
}

func (r *recordingSource) Lookup(ctx context.Context, ids []string) ([]Profile, error) {
	r.mu.Lock()
	r.batches = append(r.batches, ids)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []Profile
	for _, id := range ids {
		if p, ok := r.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *recordingSource) batchSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sizes := make([]int, len(r.batches))
	for i, b := range r.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func TestClientDeliversResults(t *testing.T) {
	ctx := context.Background()
	src := &recordingSource{profiles: map[string]Profile{
		"1": {ID: "1", Handle: "one"},
	}}
	c := NewClient(src, testLogger())

	var mu sync.Mutex
	got := map[string]*Profile{}
	for _, id := range []string{"1", "2"} {
		id := id
		c.Enqueue(ctx, id, func(p *Profile) {
			mu.Lock()
			got[id] = p
			mu.Unlock()
		})
	}
	require.NoError(t, c.Flush(ctx))

	require.Len(t, got, 2)
	require.NotNil(t, got["1"])
	require.Equal(t, "one", got["1"].Handle)
	require.Nil(t, got["2"], "unresolvable id gets a nil profile")
}

func TestClientBatchesAtLimit(t *testing.T) {
	ctx := context.Background()
	src := &recordingSource{}
	c := NewClient(src, testLogger())

	var calls atomic.Int64
	for i := 0; i < BatchSize+5; i++ {
		c.Enqueue(ctx, fmt.Sprintf("u%d", i), func(*Profile) { calls.Add(1) })
	}
	require.NoError(t, c.Flush(ctx))

	require.Equal(t, int64(BatchSize+5), calls.Load())
	sizes := src.batchSizes()
	require.Len(t, sizes, 2)
	require.ElementsMatch(t, []int{BatchSize, 5}, sizes)
}

func TestClientDeduplicatesPendingIDs(t *testing.T) {
	ctx := context.Background()
	src := &recordingSource{profiles: map[string]Profile{
		"7": {ID: "7", Handle: "seven"},
	}}
	c := NewClient(src, testLogger())

	var calls, resolved atomic.Int64
	for i := 0; i < 3; i++ {
		c.Enqueue(ctx, "7", func(p *Profile) {
			calls.Add(1)
			if p != nil {
				resolved.Add(1)
			}
		})
	}
	require.NoError(t, c.Flush(ctx))

	require.Equal(t, int64(3), calls.Load(), "every callback fires")
	require.Equal(t, int64(3), resolved.Load())
	require.Equal(t, []int{1}, src.batchSizes(), "the id is requested once")
}

func TestClientFlushReportsLookupErrors(t *testing.T) {
	ctx := context.Background()
	lookupErr := errors.New("rate limited forever")
	c := NewClient(&recordingSource{err: lookupErr}, testLogger())

	got := &Profile{}
	c.Enqueue(ctx, "1", func(p *Profile) { got = p })

	err := c.Flush(ctx)
	require.ErrorIs(t, err, lookupErr)
	require.Nil(t, got, "failed batches still deliver, with nil")
}

func TestClientFlushDrainsMultipleBatches(t *testing.T) {
	ctx := context.Background()
	src := &recordingSource{}
	c := NewClient(src, testLogger())

	var calls atomic.Int64
	total := BatchSize*2 + 1
	for i := 0; i < total; i++ {
		c.Enqueue(ctx, fmt.Sprintf("u%d", i), func(*Profile) { calls.Add(1) })
	}
	require.NoError(t, c.Flush(ctx))
	require.Equal(t, int64(total), calls.Load())
	require.Len(t, src.batchSizes(), 3)
}

func TestNoopSourceResolvesNothing(t *testing.T) {
	profiles, err := NoopSource{}.Lookup(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	require.Empty(t, profiles)
}
