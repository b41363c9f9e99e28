package metastore

import (
	"context"
	"testing"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"

	"github.com/dmc-network/dsg-miner/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	assert.NoError(t, err)
	return s
}

func testContractID(b byte) types.ContractID {
	var id types.ContractID
	id[0] = b
	return id
}

func TestSaveAndGetContract(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := testContractID(1)

	c := types.Contract{ContractID: id, Customer: "cust", Miner: "miner", OrderID: "order-1", ChunkSize: 4096}
	err := s.WithTxn(ctx, func(txn *Txn) error {
		return txn.SaveContract(c)
	})
	assert.NoError(t, err)

	var got types.Contract
	err = s.WithTxn(ctx, func(txn *Txn) error {
		var err error
		got, err = txn.GetContract(id)
		return err
	})
	assert.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestGetContractNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.WithTxn(context.Background(), func(txn *Txn) error {
		_, err := txn.GetContract(testContractID(9))
		return err
	})
	assert.Error(t, err)
	assert.True(t, types.IsKind(err, types.NotFound))
}

func TestWithTxnRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := testContractID(2)

	err := s.WithTxn(ctx, func(txn *Txn) error {
		if err := txn.ContractSetAdd(id); err != nil {
			return err
		}
		return assertErr
	})
	assert.Error(t, err)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		members, err := txn.ContractSetMembers()
		assert.NoError(t, err)
		assert.Empty(t, members)
		return nil
	})
	assert.NoError(t, err)
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestSetsAddRemoveMembers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a, b := testContractID(3), testContractID(4)

	err := s.WithTxn(ctx, func(txn *Txn) error {
		if err := txn.SyncSetAdd(a); err != nil {
			return err
		}
		return txn.SyncSetAdd(b)
	})
	assert.NoError(t, err)

	var members []types.ContractID
	err = s.WithTxn(ctx, func(txn *Txn) error {
		var err error
		members, err = txn.SyncSetMembers()
		return err
	})
	assert.NoError(t, err)
	assert.ElementsMatch(t, []types.ContractID{a, b}, members)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		return txn.SyncSetRemove(a)
	})
	assert.NoError(t, err)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		var err error
		members, err = txn.SyncSetMembers()
		return err
	})
	assert.NoError(t, err)
	assert.Equal(t, []types.ContractID{b}, members)
}

func TestSetAddIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := testContractID(5)

	err := s.WithTxn(ctx, func(txn *Txn) error {
		if err := txn.ContractSetAdd(id); err != nil {
			return err
		}
		return txn.ContractSetAdd(id)
	})
	assert.NoError(t, err)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		members, err := txn.ContractSetMembers()
		assert.NoError(t, err)
		assert.Len(t, members, 1)
		return nil
	})
	assert.NoError(t, err)
}

func TestWalkStatesFollowsPrevChainOldestLast(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := testContractID(6)

	var root, middle, head types.ContractState
	root.StateID = types.StateID{0xAA}
	root.Kind = types.StateInitial

	middle.StateID = types.StateID{0xBB}
	middle.PrevChange = root.StateID
	middle.Kind = types.StateDataSourceChanged

	head.StateID = types.StateID{0xCC}
	head.PrevChange = middle.StateID
	head.Kind = types.StateDataSourceChanged

	err := s.WithTxn(ctx, func(txn *Txn) error {
		if err := txn.SaveHeadState(id, root); err != nil {
			return err
		}
		if err := txn.SaveHeadState(id, middle); err != nil {
			return err
		}
		return txn.SaveHeadState(id, head)
	})
	assert.NoError(t, err)

	var chain []types.ContractState
	err = s.WithTxn(ctx, func(txn *Txn) error {
		var err error
		chain, err = txn.WalkStates(head)
		return err
	})
	assert.NoError(t, err)
	assert.Len(t, chain, 3)
	assert.Equal(t, head.StateID, chain[0].StateID)
	assert.Equal(t, middle.StateID, chain[1].StateID)
	assert.Equal(t, root.StateID, chain[2].StateID)
}

func TestWalkStatesDetectsCycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := testContractID(7)

	var a, b types.ContractState
	a.StateID = types.StateID{0x01}
	a.PrevChange = types.StateID{0x02}
	b.StateID = types.StateID{0x02}
	b.PrevChange = types.StateID{0x01}

	err := s.WithTxn(ctx, func(txn *Txn) error {
		if err := txn.SaveHeadState(id, a); err != nil {
			return err
		}
		return txn.SaveHeadState(id, b)
	})
	assert.NoError(t, err)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		_, err := txn.WalkStates(a)
		return err
	})
	assert.Error(t, err)
	assert.True(t, types.IsKind(err, types.InvalidData))
}

func TestChallengeSaveGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := testContractID(8)

	bs := bitset.New(10)
	bs.Set(2)
	bs.Set(7)
	c := types.Challenge{
		ContractID:   id,
		StateID:      types.StateID{0x11},
		PieceIndices: bs,
		Nonce:        []byte{1, 2, 3},
		ExpireAt:     time.Unix(1700000000, 0).UTC(),
		Kind:         types.ChallengeState,
	}

	err := s.WithTxn(ctx, func(txn *Txn) error {
		return txn.SaveChallenge(id, c)
	})
	assert.NoError(t, err)

	var got types.Challenge
	err = s.WithTxn(ctx, func(txn *Txn) error {
		var err error
		got, err = txn.GetChallenge(id)
		return err
	})
	assert.NoError(t, err)
	assert.Equal(t, c.ContractID, got.ContractID)
	assert.Equal(t, c.StateID, got.StateID)
	assert.Equal(t, c.Nonce, got.Nonce)
	assert.Equal(t, c.Kind, got.Kind)
	assert.True(t, got.ExpireAt.Equal(c.ExpireAt))
	ones := got.PieceIndices.All()
	assert.ElementsMatch(t, []uint{2, 7}, ones)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		return txn.DeleteChallenge(id)
	})
	assert.NoError(t, err)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		_, err := txn.GetChallenge(id)
		return err
	})
	assert.Error(t, err)
	assert.True(t, types.IsKind(err, types.NotFound))
}

func TestChunkRefCountAndDelSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	chunkID, err := types.NewChunkId(make([]byte, 32), 10)
	assert.NoError(t, err)
	a, b := testContractID(10), testContractID(11)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		if err := txn.ChunkRefAdd(chunkID, a); err != nil {
			return err
		}
		return txn.ChunkRefAdd(chunkID, b)
	})
	assert.NoError(t, err)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		n, err := txn.ChunkRefCount(chunkID)
		assert.NoError(t, err)
		assert.Equal(t, int64(2), n)
		return nil
	})
	assert.NoError(t, err)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		return txn.ChunkRefDel(chunkID, a)
	})
	assert.NoError(t, err)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		inDel, err := txn.IsInDelSet(chunkID)
		assert.NoError(t, err)
		assert.False(t, inDel)
		return nil
	})
	assert.NoError(t, err)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		return txn.ChunkRefDel(chunkID, b)
	})
	assert.NoError(t, err)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		inDel, err := txn.IsInDelSet(chunkID)
		assert.NoError(t, err)
		assert.True(t, inDel)
		return nil
	})
	assert.NoError(t, err)
}

func TestLockerBlocksConcurrentHolders(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "miner_contract_x")
	assert.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "miner_contract_x")
		assert.NoError(t, err)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	<-acquired
}

func TestLockerRespectsContextCancellation(t *testing.T) {
	l := NewLocker()
	unlock, err := l.Lock(context.Background(), "miner_contract_y")
	assert.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "miner_contract_y")
	assert.Error(t, err)
}

func TestOnChainSubstateDefaultsToNone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := testContractID(12)

	var state types.ChainChallengeState
	err := s.WithTxn(ctx, func(txn *Txn) error {
		var err error
		state, err = txn.GetOnChainSubstate(id)
		return err
	})
	assert.NoError(t, err)
	assert.Equal(t, types.ChainChallengeNone, state)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		return txn.SaveOnChainSubstate(id, types.ChainChallengeArbitration, 0)
	})
	assert.NoError(t, err)

	err = s.WithTxn(ctx, func(txn *Txn) error {
		var err error
		state, err = txn.GetOnChainSubstate(id)
		return err
	})
	assert.NoError(t, err)
	assert.Equal(t, types.ChainChallengeArbitration, state)
}
