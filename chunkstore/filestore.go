package chunkstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmc-network/dsg-miner/types"
)

// FileStore is the filesystem-backed Store implementation: each chunk is
// one file under baseDir, named by its ChunkId's hex encoding. A striped
// set of mutexes (keyed by the first byte of the hash) guards concurrent
// writes to the same id without serializing unrelated chunks.
type FileStore struct {
	baseDir string

	mu    sync.Mutex
	locks map[byte]*sync.Mutex
}

// NewFileStore creates a FileStore rooted at baseDir, creating it if
// necessary.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, types.NewError(types.Fatal, err)
	}
	return &FileStore{baseDir: baseDir, locks: map[byte]*sync.Mutex{}}, nil
}

func (s *FileStore) lockFor(id types.ChunkId) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := id.Hash[0]
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *FileStore) path(id types.ChunkId) string {
	name := id.String()
	return filepath.Join(s.baseDir, name[:2], name)
}

func (s *FileStore) Put(id types.ChunkId, b []byte) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	p := s.path(id)
	if existing, err := os.ReadFile(p); err == nil {
		if string(existing) == string(b) {
			return nil
		}
		return types.NewError(types.InvalidData, fmt.Errorf("chunkstore: id %s already stored with different bytes", id))
	} else if !os.IsNotExist(err) {
		return types.NewError(types.Fatal, err)
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return types.NewError(types.Fatal, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return types.NewError(types.Fatal, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return types.NewError(types.Fatal, err)
	}
	return nil
}

func (s *FileStore) Get(id types.ChunkId) (io.ReadCloser, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewError(types.NotFound, err)
		}
		return nil, types.NewError(types.Fatal, err)
	}
	return f, nil
}

func (s *FileStore) GetRange(id types.ChunkId, lo, hi int64) ([]byte, error) {
	if hi <= lo {
		return []byte{}, nil
	}
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewError(types.NotFound, err)
		}
		return nil, types.NewError(types.Fatal, err)
	}
	defer f.Close()

	buf := make([]byte, hi-lo)
	n, err := f.ReadAt(buf, lo)
	if err != nil && err != io.EOF {
		return nil, types.NewError(types.Fatal, err)
	}
	return buf[:n], nil
}

func (s *FileStore) Exists(id types.ChunkId) (bool, error) {
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, types.NewError(types.Fatal, err)
}

func (s *FileStore) Delete(id types.ChunkId) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return types.NewError(types.Fatal, err)
	}
	return nil
}

func (s *FileStore) GetContractBytes(chunkList []types.ChunkId, lo, hi, chunkSize int64) ([]byte, error) {
	return getContractBytes(s, chunkList, lo, hi, chunkSize)
}
