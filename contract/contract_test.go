package contract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmc-network/dsg-miner/chain"
	"github.com/dmc-network/dsg-miner/chunkdownloader"
	"github.com/dmc-network/dsg-miner/chunkstore"
	"github.com/dmc-network/dsg-miner/merkle"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

type fakeChain struct {
	order      *types.Order
	cyfs       *types.CyfsInfo
	challenge  types.ChallengeInfo
	addMerkle  func(orderID string, root [32]byte, pieceCount uint64) error
	answered   []string
	arbitrated []string
}

func (f *fakeChain) GetOrder(orderID string) (*types.Order, error) { return f.order, nil }
func (f *fakeChain) GetCyfsInfo(account string) (*types.CyfsInfo, error) {
	return f.cyfs, nil
}
func (f *fakeChain) GetChallengeInfo(orderID string) (*types.ChallengeInfo, error) {
	c := f.challenge
	return &c, nil
}
func (f *fakeChain) AddMerkle(orderID string, root [32]byte, pieceCount uint64) error {
	if f.addMerkle != nil {
		return f.addMerkle(orderID, root, pieceCount)
	}
	return nil
}
func (f *fakeChain) AnswerChallenge(orderID string, replyHash []byte) error {
	f.answered = append(f.answered, orderID)
	return nil
}
func (f *fakeChain) Arbitration(orderID string, pieceBytes []byte, authPath [][32]byte) error {
	f.arbitrated = append(f.arbitrated, orderID)
	return nil
}
func (f *fakeChain) ReportCyfsInfo(info types.CyfsInfo) error { return nil }
func (f *fakeChain) GetChainInfo() (*chain.ChainInfo, error)  { return &chain.ChainInfo{}, nil }
func (f *fakeChain) GetBlockInfo(refBlockNum uint32) (*chain.BlockInfo, error) {
	return &chain.BlockInfo{}, nil
}

type fakeCustomer struct {
	contract types.Contract
	head     types.ContractState
	err      error
}

func (f *fakeCustomer) FetchContractState(ctx context.Context, customerDevice string, contractID types.ContractID) (types.Contract, types.ContractState, error) {
	if f.err != nil {
		return types.Contract{}, types.ContractState{}, f.err
	}
	return f.contract, f.head, nil
}

type fakeSource struct {
	data map[types.ChunkId][]byte
}

func (f *fakeSource) FetchChunk(ctx context.Context, device string, id types.ChunkId) ([]byte, error) {
	b, ok := f.data[id]
	if !ok {
		return nil, types.NewError(types.NotFound, nil)
	}
	return b, nil
}

func chunkIDFor(t *testing.T, b []byte) types.ChunkId {
	t.Helper()
	h := sha256.Sum256(b)
	id, err := types.NewChunkId(h[:], uint32(len(b)))
	assert.NoError(t, err)
	return id
}

func newTestEngine(t *testing.T, customer CustomerClient, chainClient chain.Client) (*Engine, chunkstore.Store) {
	t.Helper()
	meta, err := metastore.Open(":memory:")
	assert.NoError(t, err)
	chunks := chunkstore.NewMemStore()
	merkleEngine := merkle.NewEngine(0)
	downloader := chunkdownloader.New(&fakeSource{}, chunks)

	e := New(meta, chunks, merkleEngine, chainClient, downloader, customer)
	return e, chunks
}

func TestBeginSyncPersistsContractAndSyncingState(t *testing.T) {
	contractID := types.ContractID{0x01}
	chunkA := chunkIDFor(t, bytes.Repeat([]byte{1}, 16))
	head := types.ContractState{
		StateID: types.StateID{0x10},
		Kind:    types.StateDataSourceChanged,
		Chunks:  []types.ChunkId{chunkA},
	}
	head.StoredHash = cumulativeHash([]types.ChunkId{chunkA})

	c := types.Contract{ContractID: contractID, Customer: "customer-device", OrderID: "order-1", ChunkSize: 4096}
	customer := &fakeCustomer{contract: c, head: head}
	chainClient := &fakeChain{
		order: &types.Order{OrderID: "order-1", User: "alice", State: types.OrderStateDeployed},
		cyfs:  &types.CyfsInfo{Addr: "customer-device"},
	}

	e, _ := newTestEngine(t, customer, chainClient)
	challenge := types.Challenge{ContractID: contractID}

	err := e.BeginSync(context.Background(), "customer-device", contractID, challenge)
	assert.NoError(t, err)

	err = e.Meta.WithTxn(context.Background(), func(txn *metastore.Txn) error {
		got, err := txn.GetContract(contractID)
		assert.NoError(t, err)
		assert.Equal(t, c, got)

		members, err := txn.SyncSetMembers()
		assert.NoError(t, err)
		assert.Contains(t, members, contractID)
		return nil
	})
	assert.NoError(t, err)
}

func TestBeginSyncRejectsCustomerDeviceMismatch(t *testing.T) {
	contractID := types.ContractID{0x02}
	c := types.Contract{ContractID: contractID, Customer: "customer-device", OrderID: "order-2"}
	customer := &fakeCustomer{contract: c, head: types.ContractState{}}
	chainClient := &fakeChain{
		order: &types.Order{OrderID: "order-2", User: "bob"},
		cyfs:  &types.CyfsInfo{Addr: "some-other-device"},
	}

	e, _ := newTestEngine(t, customer, chainClient)
	err := e.BeginSync(context.Background(), "customer-device", contractID, types.Challenge{})
	assert.Error(t, err)
	assert.True(t, types.IsKind(err, types.InvalidData))
}

func TestBeginSyncRejectsHeadStoredHashMismatch(t *testing.T) {
	contractID := types.ContractID{0x03}
	chunkA := chunkIDFor(t, []byte("data"))
	head := types.ContractState{
		StateID:    types.StateID{0x20},
		Kind:       types.StateDataSourceChanged,
		Chunks:     []types.ChunkId{chunkA},
		StoredHash: []byte("wrong-hash"),
	}
	c := types.Contract{ContractID: contractID, Customer: "customer-device", OrderID: "order-3"}
	customer := &fakeCustomer{contract: c, head: head}
	chainClient := &fakeChain{
		order: &types.Order{OrderID: "order-3", User: "carol"},
		cyfs:  &types.CyfsInfo{Addr: "customer-device"},
	}

	e, _ := newTestEngine(t, customer, chainClient)
	err := e.BeginSync(context.Background(), "customer-device", contractID, types.Challenge{})
	assert.Error(t, err)
	assert.True(t, types.IsKind(err, types.MerkleRootMismatch))
}

func TestSyncOneReconcilesAndMarksStoring(t *testing.T) {
	contractID := types.ContractID{0x04}
	chunkSize := int64(merkle.PieceSize * 2)
	chunkBytes := bytes.Repeat([]byte{9}, int(chunkSize))
	chunkID := chunkIDFor(t, chunkBytes)

	head := types.ContractState{
		StateID: types.StateID{0x30},
		Kind:    types.StateDataSourceChanged,
		Chunks:  []types.ChunkId{chunkID},
	}
	head.StoredHash = cumulativeHash([]types.ChunkId{chunkID})

	c := types.Contract{ContractID: contractID, Customer: "customer-device", OrderID: "order-4", ChunkSize: uint64(chunkSize)}

	customer := &fakeCustomer{contract: c, head: head}
	chainClient := &fakeChain{
		order: &types.Order{OrderID: "order-4", User: "dave"},
		cyfs:  &types.CyfsInfo{Addr: "customer-device"},
	}

	meta, err := metastore.Open(":memory:")
	assert.NoError(t, err)
	chunks := chunkstore.NewMemStore()
	merkleEngine := merkle.NewEngine(0)
	downloader := chunkdownloader.New(&fakeSource{data: map[types.ChunkId][]byte{chunkID: chunkBytes}}, chunks)
	e := New(meta, chunks, merkleEngine, chainClient, downloader, customer)

	err = e.Meta.WithTxn(context.Background(), func(txn *metastore.Txn) error {
		if err := txn.SaveContract(c); err != nil {
			return err
		}
		if err := txn.SaveSyncingState(contractID, head); err != nil {
			return err
		}
		return txn.SyncSetAdd(contractID)
	})
	assert.NoError(t, err)

	assert.NoError(t, chunks.Put(chunkID, chunkBytes))

	metaBytes, err := BuildMetadataBlock(c, []types.ContractState{head})
	assert.NoError(t, err)
	metaRoots := metaMerkleRoots(metaBytes, chunkSize)
	cRoot, err := chunkRoot(chunks, chunkID, chunkSize)
	assert.NoError(t, err)
	pieceCount := uint64(len(metaRoots)+1) * leavesPerChunk(chunkSize)
	root := e.topRoot(metaRoots, [][32]byte{cRoot})
	chainClient.challenge = types.ChallengeInfo{PreMerkleRoot: root[:], PreMerkleBlockCount: pieceCount}

	err = e.SyncOne(context.Background(), contractID)
	assert.NoError(t, err)

	err = e.Meta.WithTxn(context.Background(), func(txn *metastore.Txn) error {
		info, err := txn.GetContractInfo(contractID)
		assert.NoError(t, err)
		assert.Equal(t, types.StatusStoring, info.Status)

		members, err := txn.SyncSetMembers()
		assert.NoError(t, err)
		assert.NotContains(t, members, contractID)

		csMembers, err := txn.ContractSetMembers()
		assert.NoError(t, err)
		assert.Contains(t, csMembers, contractID)
		return nil
	})
	assert.NoError(t, err)
}

func TestCheckClosureClosesOnOrderEnd(t *testing.T) {
	contractID := types.ContractID{0x05}
	chunkA := chunkIDFor(t, []byte("closing"))
	chainClient := &fakeChain{order: &types.Order{OrderID: "order-5", State: types.OrderStateOrderEnd}}
	meta, err := metastore.Open(":memory:")
	assert.NoError(t, err)
	chunks := chunkstore.NewMemStore()
	e := New(meta, chunks, merkle.NewEngine(0), chainClient, chunkdownloader.New(&fakeSource{}, chunks), &fakeCustomer{})

	c := types.Contract{ContractID: contractID, OrderID: "order-5"}
	err = e.Meta.WithTxn(context.Background(), func(txn *metastore.Txn) error {
		if err := txn.SaveContract(c); err != nil {
			return err
		}
		if err := txn.SaveChunkList(contractID, []types.ChunkId{chunkA}); err != nil {
			return err
		}
		if err := txn.ChunkRefAdd(chunkA, contractID); err != nil {
			return err
		}
		info := types.ContractInfo{ContractID: contractID, Status: types.StatusStoring, LatestCheckTime: time.Now().Add(-8 * 24 * time.Hour)}
		if err := txn.SaveContractInfo(info); err != nil {
			return err
		}
		return txn.ContractSetAdd(contractID)
	})
	assert.NoError(t, err)

	err = e.CheckClosure(context.Background(), contractID)
	assert.NoError(t, err)

	err = e.Meta.WithTxn(context.Background(), func(txn *metastore.Txn) error {
		info, err := txn.GetContractInfo(contractID)
		assert.NoError(t, err)
		assert.Equal(t, types.StatusClosed, info.Status)

		inDel, err := txn.IsInDelSet(chunkA)
		assert.NoError(t, err)
		assert.True(t, inDel)

		members, err := txn.ContractSetMembers()
		assert.NoError(t, err)
		assert.NotContains(t, members, contractID)
		return nil
	})
	assert.NoError(t, err)
}

func TestCheckClosureDefersWhenOrderStillOpen(t *testing.T) {
	contractID := types.ContractID{0x06}
	chainClient := &fakeChain{order: &types.Order{OrderID: "order-6", State: types.OrderStateDeployed}}
	meta, err := metastore.Open(":memory:")
	assert.NoError(t, err)
	chunks := chunkstore.NewMemStore()
	e := New(meta, chunks, merkle.NewEngine(0), chainClient, chunkdownloader.New(&fakeSource{}, chunks), &fakeCustomer{})

	c := types.Contract{ContractID: contractID, OrderID: "order-6"}
	checkTime := time.Now().Add(-8 * 24 * time.Hour)
	err = e.Meta.WithTxn(context.Background(), func(txn *metastore.Txn) error {
		if err := txn.SaveContract(c); err != nil {
			return err
		}
		info := types.ContractInfo{ContractID: contractID, Status: types.StatusStoring, LatestCheckTime: checkTime}
		return txn.SaveContractInfo(info)
	})
	assert.NoError(t, err)

	err = e.CheckClosure(context.Background(), contractID)
	assert.NoError(t, err)

	err = e.Meta.WithTxn(context.Background(), func(txn *metastore.Txn) error {
		info, err := txn.GetContractInfo(contractID)
		assert.NoError(t, err)
		assert.Equal(t, types.StatusStoring, info.Status)
		assert.True(t, info.LatestCheckTime.After(checkTime))
		return nil
	})
	assert.NoError(t, err)
}
