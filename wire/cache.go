package wire

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmc-network/dsg-miner/chunkstore"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

// CacheListenAddr is spec.md §9's optional public HTTP cache endpoint.
const CacheListenAddr = "0.0.0.0:32855"

// Cache serves the concatenated stored bytes of a contract over plain
// HTTP, no auth, per spec.md §9 Open Question 3 (left unresolved by spec:
// "public-readable" is not otherwise distinguished from any other
// contract this node stores, so every synced contract is servable here —
// recorded in DESIGN.md).
type Cache struct {
	Meta   *metastore.Store
	Chunks chunkstore.Store
}

// NewCache creates a Cache handler.
func NewCache(meta *metastore.Store, chunks chunkstore.Store) *Cache {
	return &Cache{Meta: meta, Chunks: chunks}
}

// ServeHTTP answers GET /contracts/<hex contract id> with the
// concatenation of that contract's accepted chunk list, trimmed to its
// StoredSize.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hexID := strings.TrimPrefix(r.URL.Path, "/contracts/")
	if hexID == "" || hexID == r.URL.Path {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	contractID, err := types.ContractIDFromHex(hexID)
	if err != nil {
		http.Error(w, "bad contract id", http.StatusBadRequest)
		return
	}

	b, err := c.readContract(r.Context(), contractID)
	if err != nil {
		if types.IsKind(err, types.NotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(b)
}

func (c *Cache) readContract(ctx context.Context, id types.ContractID) ([]byte, error) {
	var (
		info      types.ContractInfo
		chunkList []types.ChunkId
		contract  types.Contract
	)
	if err := c.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		var err error
		contract, err = txn.GetContract(id)
		if err != nil {
			return err
		}
		info, err = txn.GetContractInfo(id)
		if err != nil {
			return err
		}
		chunkList, err = txn.GetChunkList(id)
		if err != nil {
			return err
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if info.Status < types.StatusStoring {
		return nil, types.NewError(types.ErrorState, fmt.Errorf("wire: contract %s not yet stored", id))
	}
	return c.Chunks.GetContractBytes(chunkList, 0, int64(info.StoredSize), int64(contract.ChunkSize))
}
