// Package chunkdownloader implements C5: fetching a declared chunk list
// from a named remote device into the local Chunk Store, fanning the
// transfer out across a bounded worker pool.
//
// Grounded directly on the teacher's client/uploader.go ConcurrentOnce,
// which fans chunk transfer out across an ants.NewPoolWithFunc pool with
// the identical retry-with-backoff shape; this system reuses that shape
// for the download direction instead of upload.
package chunkdownloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/dmc-network/dsg-miner/chunkstore"
	"github.com/dmc-network/dsg-miner/types"
)

// DefaultConcurrency bounds how many chunks are fetched in parallel for
// one Download call.
const DefaultConcurrency = 16

// maxAttempts bounds the internal retry-with-backoff spec.md §4.5
// requires per chunk before the whole Download call fails.
const maxAttempts = 5

// Source fetches one chunk's bytes from a named remote device. The
// concrete implementation (the local object-store / device-to-device
// transport) is out of this system's scope per spec.md §1; this is the
// capability interface the engine depends on.
type Source interface {
	FetchChunk(ctx context.Context, sourceDevice string, id types.ChunkId) ([]byte, error)
}

// Params configures one Download call.
type Params struct {
	// PaddingLen is the chunk_size each fetched chunk is conceptually
	// padded to once stored, passed through for bookkeeping only —
	// the downloader itself stores exactly what it fetches.
	PaddingLen int64
	Concurrency int
}

// Downloader fetches declared chunk lists into a chunkstore.Store.
type Downloader struct {
	source Source
	store  chunkstore.Store
}

// New creates a Downloader backed by source and storing into store.
func New(source Source, store chunkstore.Store) *Downloader {
	return &Downloader{source: source, store: store}
}

// Download fetches every chunk in chunkList from sourceDevice into the
// local Chunk Store, blocking until every chunk is stored or a chunk
// fails permanently after internal retries. A chunk already present
// (content-addressed, so already-correct) is skipped.
func (d *Downloader) Download(ctx context.Context, chunkList []types.ChunkId, sourceDevice string, params Params) error {
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		firstErr error
	)

	pool, err := ants.NewPoolWithFunc(concurrency, func(arg interface{}) {
		defer wg.Done()
		id := arg.(types.ChunkId)
		if err := d.fetchOne(ctx, sourceDevice, id); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	})
	if err != nil {
		return types.NewError(types.Fatal, err)
	}
	defer pool.Release()

	for _, id := range chunkList {
		wg.Add(1)
		if err := pool.Invoke(id); err != nil {
			wg.Done()
			return types.NewError(types.Fatal, err)
		}
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return nil
}

func (d *Downloader) fetchOne(ctx context.Context, sourceDevice string, id types.ChunkId) error {
	exists, err := d.store.Exists(id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return types.NewError(types.Fatal, ctx.Err())
		default:
		}

		b, err := d.source.FetchChunk(ctx, sourceDevice, id)
		if err == nil {
			return d.store.Put(id, b)
		}
		lastErr = err
		if !types.IsKind(err, types.ConnectFailed) {
			return err
		}
		time.Sleep(backoff(attempt))
	}
	return types.NewError(types.ConnectFailed, fmt.Errorf("chunkdownloader: %s from %s: %w", id, sourceDevice, lastErr))
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
