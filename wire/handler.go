package wire

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	log "github.com/inconshreveable/log15"

	"github.com/dmc-network/dsg-miner/chunkstore"
	"github.com/dmc-network/dsg-miner/dispatch"
	"github.com/dmc-network/dsg-miner/merkle"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/signer"
	"github.com/dmc-network/dsg-miner/types"
)

var logger = log.New("pkg", "wire")

// Handler is the miner's customer-facing object post-and-reply endpoint
// (spec.md §6) and also the client side this system uses toward customer
// devices: FetchContractState (contract.CustomerClient) serves the
// declaration handleChallenge stashed, without a network call; FetchChunk
// (chunkdownloader.Source) is a plain HTTP GET on the device's /chunks/
// path; DeliverProof (reconcile.ProofDeliverer) POSTs a signed Envelope.
type Handler struct {
	Meta       *metastore.Store
	Chunks     chunkstore.Store
	Dispatcher *dispatch.Dispatcher
	Signer     *signer.Signer
	HTTPClient *http.Client

	declMu sync.Mutex
	decls  map[types.ContractID]ContractDeclaration
}

// New creates a wire Handler.
func New(meta *metastore.Store, chunks chunkstore.Store, dispatcher *dispatch.Dispatcher, s *signer.Signer) *Handler {
	return &Handler{
		Meta:       meta,
		Chunks:     chunks,
		Dispatcher: dispatcher,
		Signer:     s,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		decls:      map[types.ContractID]ContractDeclaration{},
	}
}

// ServeHTTP implements the well-known message handler path: POST an
// Envelope, receive a signed Envelope reply.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}
	if err := Verify(&env); err != nil {
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	reply, err := h.dispatch(r.Context(), &env)
	if err != nil {
		logger.Error("wire: handle failed", "kind", env.Kind, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out, err := json.Marshal(reply)
	if err != nil {
		http.Error(w, "encode reply", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

func (h *Handler) dispatch(ctx context.Context, env *Envelope) (*Envelope, error) {
	switch env.Kind {
	case KindChallenge:
		return h.handleChallenge(ctx, env)
	case KindGetOrderInfo:
		return h.handleGetOrderInfo(ctx, env)
	case KindGetChunkMerkleHash:
		return h.handleGetChunkMerkleHash(ctx, env)
	default:
		return nil, types.NewError(types.InvalidInput, fmt.Errorf("wire: unknown message kind %q", env.Kind))
	}
}

func (h *Handler) handleChallenge(ctx context.Context, env *Envelope) (*Envelope, error) {
	var msg ChallengeMsg
	if err := json.Unmarshal(env.Body, &msg); err != nil {
		return nil, types.NewError(types.InvalidData, err)
	}
	challenge, err := challengeFromMsg(msg)
	if err != nil {
		return nil, err
	}
	if msg.Declaration != nil {
		h.declMu.Lock()
		h.decls[challenge.ContractID] = *msg.Declaration
		h.declMu.Unlock()
	}
	if err := h.Dispatcher.OnChallenge(ctx, challenge, env.Signer); err != nil {
		return nil, err
	}
	return Sign(KindAccepted, struct{}{}, h.Signer)
}

func (h *Handler) handleGetOrderInfo(ctx context.Context, env *Envelope) (*Envelope, error) {
	var req GetOrderInfoRequest
	if err := json.Unmarshal(env.Body, &req); err != nil {
		return nil, types.NewError(types.InvalidData, err)
	}
	var reply GetOrderInfoReply
	err := h.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		contractID, err := txn.ContractIDForOrder(req.OrderID)
		if err != nil {
			return err
		}
		head, err := txn.HeadState(contractID)
		if err != nil {
			return err
		}
		reply = GetOrderInfoReply{ContractID: contractID.String(), StateID: head.StateID.String()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Sign(KindGetOrderInfo, reply, h.Signer)
}

func (h *Handler) handleGetChunkMerkleHash(ctx context.Context, env *Envelope) (*Envelope, error) {
	var req GetChunkMerkleHashRequest
	if err := json.Unmarshal(env.Body, &req); err != nil {
		return nil, types.NewError(types.InvalidData, err)
	}
	hashes := make([]string, len(req.ChunkList))
	for i, b := range req.ChunkList {
		id, err := types.ChunkIdFromBytes(b)
		if err != nil {
			return nil, err
		}
		raw, err := h.Chunks.GetRange(id, 0, int64(id.Length))
		if err != nil {
			return nil, err
		}
		padded := raw
		if int64(len(padded)) < req.ChunkSize {
			padded = make([]byte, req.ChunkSize)
			copy(padded, raw)
		}
		root := merkle.BuildFromBytes(padded).Root()
		hashes[i] = hex.EncodeToString(root[:])
	}
	return Sign(KindGetChunkMerkleHash, GetChunkMerkleHashReply{Hashes: hashes}, h.Signer)
}

func challengeFromMsg(m ChallengeMsg) (types.Challenge, error) {
	var c types.Challenge
	id, err := types.ContractIDFromHex(m.ContractID)
	if err != nil {
		return c, err
	}
	c.ContractID = id
	stateBytes, err := hex.DecodeString(m.StateID)
	if err != nil {
		return c, types.NewError(types.InvalidData, err)
	}
	copy(c.StateID[:], stateBytes)
	bs := &bitset.BitSet{}
	if len(m.PieceIndices) > 0 {
		if err := bs.UnmarshalBinary(m.PieceIndices); err != nil {
			return c, types.NewError(types.InvalidData, err)
		}
	}
	c.PieceIndices = bs
	c.Nonce = m.Nonce
	c.ExpireAt = time.Unix(m.ExpireAtUnix, 0).UTC()
	c.Kind = types.ChallengeKind(m.Kind)
	return c, nil
}

// deviceURL builds the request URL for a device address. Devices are
// expected to be reachable over their advertised cyfs_info HTTP endpoint;
// this system treats the device identifier string itself as that base URL
// for outbound calls, a simplification of the original device-discovery
// layer which is out of this system's scope (spec.md §1) — see DESIGN.md.
func deviceURL(device string) string {
	return device
}

func (h *Handler) post(ctx context.Context, device string, env *Envelope) (*Envelope, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, types.NewError(types.Fatal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, deviceURL(device), bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.Fatal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return nil, types.NewError(types.ConnectFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, types.NewError(types.ConnectFailed, fmt.Errorf("wire: %s replied %d", device, resp.StatusCode))
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ConnectFailed, err)
	}
	var out Envelope
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, types.NewError(types.InvalidData, err)
	}
	if err := Verify(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchContractState implements contract.CustomerClient. The customer
// piggybacks its Contract + head ContractState on the Challenge message
// that first raises a challenge against a contract the miner has never
// ingested (ChallengeMsg.Declaration) rather than over a separate pull
// round trip — handleChallenge stashes it, and BeginSync calls this
// immediately afterward to consume it. See DESIGN.md's open-question
// decision on spec.md §4.6 step 1's "fetch from the challenger".
func (h *Handler) FetchContractState(ctx context.Context, customerDevice string, contractID types.ContractID) (types.Contract, types.ContractState, error) {
	h.declMu.Lock()
	decl, ok := h.decls[contractID]
	if ok {
		delete(h.decls, contractID)
	}
	h.declMu.Unlock()
	if !ok {
		return types.Contract{}, types.ContractState{}, types.NewError(types.NotFound, fmt.Errorf("wire: no declaration stashed by %s for contract %s", customerDevice, contractID))
	}
	c, err := contractFromMsg(decl.Contract)
	if err != nil {
		return types.Contract{}, types.ContractState{}, err
	}
	s, err := contractStateFromMsg(decl.Head)
	if err != nil {
		return types.Contract{}, types.ContractState{}, err
	}
	return c, s, nil
}

// FetchChunk implements chunkdownloader.Source by requesting one chunk's
// bytes directly from sourceDevice's chunk-serving endpoint.
func (h *Handler) FetchChunk(ctx context.Context, sourceDevice string, id types.ChunkId) ([]byte, error) {
	url := fmt.Sprintf("%s/chunks/%s", deviceURL(sourceDevice), hex.EncodeToString(id.Bytes()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewError(types.Fatal, err)
	}
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return nil, types.NewError(types.ConnectFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, types.NewError(types.ConnectFailed, fmt.Errorf("wire: fetch chunk %s from %s: status %d", id, sourceDevice, resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

// DeliverProof implements reconcile.ProofDeliverer by POSTing a signed
// Proof reply to the customer device that raised the challenge.
func (h *Handler) DeliverProof(ctx context.Context, contractID types.ContractID, challenge types.Challenge, proofs []*types.Proof) error {
	msgs := make([]ProofMsg, len(proofs))
	for i, p := range proofs {
		msgs[i] = toProofMsg(p)
	}
	env, err := Sign(KindProof, msgs, h.Signer)
	if err != nil {
		return err
	}

	var device string
	if err := h.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		c, err := txn.GetContract(contractID)
		if err != nil {
			return err
		}
		device = c.Customer
		return nil
	}); err != nil {
		return err
	}

	_, err = h.post(ctx, device, env)
	return err
}
