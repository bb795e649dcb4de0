package bridge

import (
	"testing"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/require"

	"github.com/cambrianlabs/accsim/internal/bus"
	"github.com/cambrianlabs/accsim/internal/group"
	"github.com/cambrianlabs/accsim/internal/ledger"
	"github.com/cambrianlabs/accsim/internal/workerpool"
)

func newUtxo(userID uuid.UUID) ledger.Utxo {
	return ledger.Utxo{ID: uuid.NewV4(), UserID: userID}
}

func setupBridge(t *testing.T) (*Bridge, *group.Group, uuid.UUID, ledger.Utxo, chan ledger.UserUpdate) {
	t.Helper()
	grp, err := group.NewGroup(64)
	require.NoError(t, err)

	owned := uuid.NewV4()
	ownedUtxo := newUtxo(owned)

	updateCh := make(chan ledger.UserUpdate, 8)
	pool := workerpool.New(1)
	t.Cleanup(pool.Close)

	senders := map[uuid.UUID]chan<- ledger.UserUpdate{owned: updateCh}
	b := New("b0", grp.Empty(), []ledger.Utxo{ownedUtxo}, senders, pool)
	return b, grp, owned, ownedUtxo, updateCh
}

func TestApplyBlockClassifiesTrackedAndUntracked(t *testing.T) {
	b, grp, owned, ownedUtxo, updateCh := setupBridge(t)

	otherUser := uuid.NewV4()
	otherUtxo := newUtxo(otherUser)
	newOwnedUtxo := newUtxo(owned)

	tx := ledger.Transaction{
		UtxosCreated: []ledger.Utxo{otherUtxo, newOwnedUtxo},
		UtxosSpentWithWitnesses: []ledger.UtxoWitness{
			{Utxo: ownedUtxo, Witness: grp.Empty()},
		},
	}

	// AccNew only needs to be self-consistent for applyBlock: it isn't
	// re-verified here (that's the miner's job), only consumed for the
	// untracked witness-update math.
	blk := ledger.Block{Height: 1, Transactions: []ledger.Transaction{tx}, AccNew: grp.Empty()}

	b.applyBlock(blk)

	snap := b.Snapshot()
	require.Equal(t, uint64(1), snap.Height)
	require.Equal(t, 1, snap.TrackedUtxos) // ownedUtxo spent, newOwnedUtxo added

	select {
	case upd := <-updateCh:
		require.Len(t, upd.UtxosAdded, 1)
		require.Equal(t, newOwnedUtxo.ID, upd.UtxosAdded[0].ID)
		require.Len(t, upd.UtxosDeleted, 1)
		require.Equal(t, ownedUtxo.ID, upd.UtxosDeleted[0].ID)
	case <-time.After(time.Second):
		t.Fatal("expected a user update")
	}
}

func TestApplyBlockRejectsWrongHeight(t *testing.T) {
	b, grp, _, _, _ := setupBridge(t)

	blk := ledger.Block{Height: 5, AccNew: grp.Empty()}
	b.applyBlock(blk)

	require.Equal(t, uint64(0), b.Snapshot().Height)
}

func TestServeRequestReturnsVerifiableWitness(t *testing.T) {
	b, grp, _, ownedUtxo, _ := setupBridge(t)

	respBus := bus.New[ledger.WitnessResponse]()
	sub := respBus.Subscribe()

	reqID := uuid.NewV4()
	req := ledger.WitnessRequest{RequestID: reqID, Utxos: []ledger.Utxo{ownedUtxo}}
	b.serveRequest(req, respBus)

	select {
	case resp := <-sub:
		require.Equal(t, reqID, resp.RequestID)
		require.Len(t, resp.UtxosWithWitnesses, 1)
		uw := resp.UtxosWithWitnesses[0]
		// Bridge tracks exactly ownedUtxo, so its own witness must be the
		// group identity (accumulator over the empty complement set).
		require.True(t, uw.Witness.Equal(grp.Empty()))
	case <-time.After(time.Second):
		t.Fatal("expected a witness response")
	}
}
