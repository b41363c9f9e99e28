package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmc-network/dsg-miner/chunkstore"
	"github.com/dmc-network/dsg-miner/dispatch"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/signer"
	"github.com/dmc-network/dsg-miner/types"
)

func mustSigner(t *testing.T) *signer.Signer {
	t.Helper()
	s, err := signer.New()
	assert.NoError(t, err)
	return s
}

func TestEnvelopeSignVerifyRoundTrip(t *testing.T) {
	s := mustSigner(t)
	env, err := Sign(KindChallenge, ChallengeMsg{ContractID: "abc"}, s)
	assert.NoError(t, err)
	assert.Equal(t, s.Address(), env.Signer)
	assert.NoError(t, Verify(env))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	s := mustSigner(t)
	env, err := Sign(KindChallenge, ChallengeMsg{ContractID: "abc"}, s)
	assert.NoError(t, err)
	tampered := make([]byte, len(env.Body))
	copy(tampered, env.Body)
	tampered = append(tampered, 'x')
	env.Body = tampered
	assert.Error(t, Verify(env))
}

func TestVerifyRejectsWrongClaimedSigner(t *testing.T) {
	s := mustSigner(t)
	other := mustSigner(t)
	env, err := Sign(KindChallenge, ChallengeMsg{ContractID: "abc"}, s)
	assert.NoError(t, err)
	env.Signer = other.Address()
	assert.Error(t, Verify(env))
}

func newTestHandler(t *testing.T) (*Handler, *metastore.Store) {
	t.Helper()
	meta, err := metastore.Open(":memory:")
	assert.NoError(t, err)
	chunks := chunkstore.NewMemStore()
	d := dispatch.New(meta, nil)
	s := mustSigner(t)
	return New(meta, chunks, d, s), meta
}

func TestFetchContractStateConsumesStashedDeclaration(t *testing.T) {
	h, _ := newTestHandler(t)
	contractID := types.ContractID{0x07}

	decl := ContractDeclaration{
		Contract: ContractMsg{ContractID: contractID.String(), Customer: "cust-device", OrderID: "order-x"},
		Head:     ContractStateMsg{StateID: types.StateID{0x01}.String()},
	}
	msg := ChallengeMsg{
		ContractID:   contractID.String(),
		StateID:      types.StateID{0x01}.String(),
		ExpireAtUnix: 1800000000,
		Declaration:  &decl,
	}
	challenge, err := challengeFromMsg(msg)
	assert.NoError(t, err)

	h.declMu.Lock()
	h.decls[challenge.ContractID] = decl
	h.declMu.Unlock()

	c, state, err := h.FetchContractState(context.Background(), "cust-device", contractID)
	assert.NoError(t, err)
	assert.Equal(t, contractID, c.ContractID)
	assert.Equal(t, "cust-device", c.Customer)
	assert.Equal(t, types.StateID{0x01}, state.StateID)

	_, _, err = h.FetchContractState(context.Background(), "cust-device", contractID)
	assert.Error(t, err)
	assert.True(t, types.IsKind(err, types.NotFound))
}

func TestServeHTTPRejectsUnsignedEnvelope(t *testing.T) {
	h, _ := newTestHandler(t)
	body, _ := json.Marshal(Envelope{Kind: KindChallenge, Body: []byte(`{}`), Signer: "nobody", Signature: []byte("bad")})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServeHTTPRejectsNonPost(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleGetChunkMerkleHashReturnsSignedReply(t *testing.T) {
	h, _ := newTestHandler(t)
	chunkBytes := []byte("hello-chunk-data")
	id, err := types.NewChunkId(hashOf(chunkBytes), uint32(len(chunkBytes)))
	assert.NoError(t, err)
	assert.NoError(t, h.Chunks.Put(id, chunkBytes))

	req := GetChunkMerkleHashRequest{ChunkList: [][]byte{id.Bytes()}, ChunkSize: int64(len(chunkBytes))}
	env, err := Sign(KindGetChunkMerkleHash, req, h.Signer)
	assert.NoError(t, err)

	body, err := json.Marshal(env)
	assert.NoError(t, err)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httpReq)
	assert.Equal(t, http.StatusOK, w.Code)

	var replyEnv Envelope
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &replyEnv))
	assert.NoError(t, Verify(&replyEnv))
	var reply GetChunkMerkleHashReply
	assert.NoError(t, json.Unmarshal(replyEnv.Body, &reply))
	assert.Len(t, reply.Hashes, 1)
}

func hashOf(b []byte) []byte {
	const size = 32
	h := make([]byte, size)
	copy(h, b)
	return h
}

func TestCacheServesFullySyncedContract(t *testing.T) {
	meta, err := metastore.Open(":memory:")
	assert.NoError(t, err)
	chunks := chunkstore.NewMemStore()
	contractID := types.ContractID{0x08}
	chunkBytes := []byte("stored-bytes")
	id, err := types.NewChunkId(hashOf(chunkBytes), uint32(len(chunkBytes)))
	assert.NoError(t, err)
	assert.NoError(t, chunks.Put(id, chunkBytes))

	err = meta.WithTxn(context.Background(), func(txn *metastore.Txn) error {
		if err := txn.SaveContract(types.Contract{ContractID: contractID, ChunkSize: uint64(len(chunkBytes))}); err != nil {
			return err
		}
		if err := txn.SaveChunkList(contractID, []types.ChunkId{id}); err != nil {
			return err
		}
		return txn.SaveContractInfo(types.ContractInfo{ContractID: contractID, Status: types.StatusStoring, StoredSize: uint64(len(chunkBytes))})
	})
	assert.NoError(t, err)

	cache := NewCache(meta, chunks)
	req := httptest.NewRequest(http.MethodGet, "/contracts/"+contractID.String(), nil)
	w := httptest.NewRecorder()
	cache.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, chunkBytes, w.Body.Bytes())
}

func TestCacheRejectsContractNotYetStoring(t *testing.T) {
	meta, err := metastore.Open(":memory:")
	assert.NoError(t, err)
	chunks := chunkstore.NewMemStore()
	contractID := types.ContractID{0x09}

	err = meta.WithTxn(context.Background(), func(txn *metastore.Txn) error {
		if err := txn.SaveContract(types.Contract{ContractID: contractID}); err != nil {
			return err
		}
		if err := txn.SaveChunkList(contractID, nil); err != nil {
			return err
		}
		return txn.SaveContractInfo(types.ContractInfo{ContractID: contractID, Status: types.StatusSyncing})
	})
	assert.NoError(t, err)

	cache := NewCache(meta, chunks)
	req := httptest.NewRequest(http.MethodGet, "/contracts/"+contractID.String(), nil)
	w := httptest.NewRecorder()
	cache.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCacheReturnsNotFoundForUnknownContract(t *testing.T) {
	meta, err := metastore.Open(":memory:")
	assert.NoError(t, err)
	chunks := chunkstore.NewMemStore()
	cache := NewCache(meta, chunks)

	unknown := types.ContractID{0xFF}
	req := httptest.NewRequest(http.MethodGet, "/contracts/"+unknown.String(), nil)
	w := httptest.NewRecorder()
	cache.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
