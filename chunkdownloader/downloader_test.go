package chunkdownloader

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmc-network/dsg-miner/chunkstore"
	"github.com/dmc-network/dsg-miner/types"
)

func mustChunkID(t *testing.T, seed byte, contents []byte) types.ChunkId {
	t.Helper()
	var h [32]byte
	h[0] = seed
	id, err := types.NewChunkId(h[:], uint32(len(contents)))
	assert.NoError(t, err)
	return id
}

type fakeSource struct {
	data     map[types.ChunkId][]byte
	failures map[types.ChunkId]int
	calls    int32
}

func (f *fakeSource) FetchChunk(ctx context.Context, device string, id types.ChunkId) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if n := f.failures[id]; n > 0 {
		f.failures[id] = n - 1
		return nil, types.NewError(types.ConnectFailed, nil)
	}
	b, ok := f.data[id]
	if !ok {
		return nil, types.NewError(types.NotFound, nil)
	}
	return b, nil
}

func TestDownloadFetchesEveryChunk(t *testing.T) {
	store := chunkstore.NewMemStore()
	a := mustChunkID(t, 1, []byte("AAAA"))
	b := mustChunkID(t, 2, []byte("BBBB"))
	src := &fakeSource{data: map[types.ChunkId][]byte{a: []byte("AAAA"), b: []byte("BBBB")}}

	d := New(src, store)
	err := d.Download(context.Background(), []types.ChunkId{a, b}, "device1", Params{})
	assert.NoError(t, err)

	for _, id := range []types.ChunkId{a, b} {
		ok, err := store.Exists(id)
		assert.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestDownloadSkipsAlreadyStoredChunk(t *testing.T) {
	store := chunkstore.NewMemStore()
	a := mustChunkID(t, 3, []byte("CCCC"))
	assert.NoError(t, store.Put(a, []byte("CCCC")))

	src := &fakeSource{data: map[types.ChunkId][]byte{}}
	d := New(src, store)
	err := d.Download(context.Background(), []types.ChunkId{a}, "device1", Params{})
	assert.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&src.calls))
}

func TestDownloadRetriesOnConnectFailedThenSucceeds(t *testing.T) {
	store := chunkstore.NewMemStore()
	a := mustChunkID(t, 4, []byte("DDDD"))
	src := &fakeSource{
		data:     map[types.ChunkId][]byte{a: []byte("DDDD")},
		failures: map[types.ChunkId]int{a: 2},
	}

	d := New(src, store)
	err := d.Download(context.Background(), []types.ChunkId{a}, "device1", Params{})
	assert.NoError(t, err)
	ok, err := store.Exists(a)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestDownloadFailsPermanentlyAfterMaxAttempts(t *testing.T) {
	store := chunkstore.NewMemStore()
	a := mustChunkID(t, 5, []byte("EEEE"))
	src := &fakeSource{
		data:     map[types.ChunkId][]byte{a: []byte("EEEE")},
		failures: map[types.ChunkId]int{a: maxAttempts + 1},
	}

	d := New(src, store)
	err := d.Download(context.Background(), []types.ChunkId{a}, "device1", Params{})
	assert.Error(t, err)
	assert.True(t, types.IsKind(err, types.ConnectFailed))
}

func TestDownloadReturnsNonRetryableErrorImmediately(t *testing.T) {
	store := chunkstore.NewMemStore()
	a := mustChunkID(t, 6, []byte("FFFF"))
	src := &fakeSource{data: map[types.ChunkId][]byte{}}

	d := New(src, store)
	err := d.Download(context.Background(), []types.ChunkId{a}, "device1", Params{})
	assert.Error(t, err)
	assert.True(t, types.IsKind(err, types.NotFound))
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
}
