package chunkstore

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/dmc-network/dsg-miner/types"
)

// MemStore is an in-memory Store, used by tests in place of FileStore.
type MemStore struct {
	mu   sync.RWMutex
	data map[types.ChunkId][]byte
}

// NewMemStore creates an empty in-memory chunk store.
func NewMemStore() *MemStore {
	return &MemStore{data: map[types.ChunkId][]byte{}}
}

func (s *MemStore) Put(id types.ChunkId, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.data[id]; ok {
		if bytes.Equal(existing, b) {
			return nil
		}
		return types.NewError(types.InvalidData, fmt.Errorf("chunkstore: id %s already stored with different bytes", id))
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	s.data[id] = cp
	return nil
}

func (s *MemStore) Get(id types.ChunkId) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[id]
	if !ok {
		return nil, types.NewError(types.NotFound, fmt.Errorf("chunkstore: %s not found", id))
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *MemStore) GetRange(id types.ChunkId, lo, hi int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[id]
	if !ok {
		return nil, types.NewError(types.NotFound, fmt.Errorf("chunkstore: %s not found", id))
	}
	if hi > int64(len(b)) {
		hi = int64(len(b))
	}
	if lo >= hi {
		return []byte{}, nil
	}
	out := make([]byte, hi-lo)
	copy(out, b[lo:hi])
	return out, nil
}

func (s *MemStore) Exists(id types.ChunkId) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[id]
	return ok, nil
}

func (s *MemStore) Delete(id types.ChunkId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *MemStore) GetContractBytes(chunkList []types.ChunkId, lo, hi, chunkSize int64) ([]byte, error) {
	return getContractBytes(s, chunkList, lo, hi, chunkSize)
}
