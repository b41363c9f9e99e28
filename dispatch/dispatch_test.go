package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmc-network/dsg-miner/chain"
	"github.com/dmc-network/dsg-miner/chunkdownloader"
	"github.com/dmc-network/dsg-miner/chunkstore"
	"github.com/dmc-network/dsg-miner/contract"
	"github.com/dmc-network/dsg-miner/merkle"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

type stubCustomer struct {
	called bool
	err    error
}

func (s *stubCustomer) FetchContractState(ctx context.Context, customerDevice string, contractID types.ContractID) (types.Contract, types.ContractState, error) {
	s.called = true
	if s.err != nil {
		return types.Contract{}, types.ContractState{}, s.err
	}
	return types.Contract{}, types.ContractState{}, nil
}

type stubChain struct{}

func (stubChain) GetOrder(orderID string) (*types.Order, error)             { return nil, types.NewError(types.NotFound, nil) }
func (stubChain) GetCyfsInfo(account string) (*types.CyfsInfo, error)       { return nil, nil }
func (stubChain) GetChallengeInfo(orderID string) (*types.ChallengeInfo, error) { return nil, nil }
func (stubChain) AddMerkle(orderID string, root [32]byte, pieceCount uint64) error { return nil }
func (stubChain) AnswerChallenge(orderID string, replyHash []byte) error     { return nil }
func (stubChain) Arbitration(orderID string, pieceBytes []byte, authPath [][32]byte) error {
	return nil
}
func (stubChain) ReportCyfsInfo(info types.CyfsInfo) error                { return nil }
func (stubChain) GetChainInfo() (*chain.ChainInfo, error)                 { return &chain.ChainInfo{}, nil }
func (stubChain) GetBlockInfo(refBlockNum uint32) (*chain.BlockInfo, error) {
	return &chain.BlockInfo{}, nil
}

func newTestDispatcher(t *testing.T, customer *stubCustomer) (*Dispatcher, *metastore.Store) {
	t.Helper()
	meta, err := metastore.Open(":memory:")
	assert.NoError(t, err)
	chunks := chunkstore.NewMemStore()
	downloader := chunkdownloader.New(nil, chunks)
	engine := contract.New(meta, chunks, merkle.NewEngine(0), stubChain{}, downloader, customer)
	return New(meta, engine), meta
}

func TestOnChallengeRoutesUnknownContractToSync(t *testing.T) {
	customer := &stubCustomer{}
	d, _ := newTestDispatcher(t, customer)

	challenge := types.Challenge{ContractID: types.ContractID{0x01}, StateID: types.StateID{0x01}}
	_ = d.OnChallenge(context.Background(), challenge, "device-1")

	assert.True(t, customer.called, "expected unknown contract to trigger BeginSync -> FetchContractState")
}

func TestOnChallengeRoutesCaughtUpStateToProofSet(t *testing.T) {
	customer := &stubCustomer{}
	d, meta := newTestDispatcher(t, customer)

	contractID := types.ContractID{0x02}
	stateID := types.StateID{0x02}
	err := meta.WithTxn(context.Background(), func(txn *metastore.Txn) error {
		return txn.SaveHeadState(contractID, types.ContractState{StateID: stateID})
	})
	assert.NoError(t, err)

	challenge := types.Challenge{ContractID: contractID, StateID: stateID}
	err = d.OnChallenge(context.Background(), challenge, "device-2")
	assert.NoError(t, err)
	assert.False(t, customer.called, "caught-up state should not trigger sync")

	err = meta.WithTxn(context.Background(), func(txn *metastore.Txn) error {
		inSet, err := txn.IsInProofSet(contractID)
		assert.NoError(t, err)
		assert.True(t, inSet)

		got, err := txn.GetChallenge(contractID)
		assert.NoError(t, err)
		assert.Equal(t, challenge.ContractID, got.ContractID)
		return nil
	})
	assert.NoError(t, err)
}

func TestOnChallengeRoutesStaleStateToSync(t *testing.T) {
	customer := &stubCustomer{}
	d, meta := newTestDispatcher(t, customer)

	contractID := types.ContractID{0x03}
	err := meta.WithTxn(context.Background(), func(txn *metastore.Txn) error {
		return txn.SaveHeadState(contractID, types.ContractState{StateID: types.StateID{0x03}})
	})
	assert.NoError(t, err)

	challenge := types.Challenge{ContractID: contractID, StateID: types.StateID{0x99}}
	_ = d.OnChallenge(context.Background(), challenge, "device-3")
	assert.True(t, customer.called, "stale state behind the challenge should trigger sync")
}
