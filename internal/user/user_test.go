package user

import (
	"context"
	"testing"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/require"

	"github.com/cambrianlabs/accsim/internal/bus"
	"github.com/cambrianlabs/accsim/internal/ledger"
)

func newUtxo(userID uuid.UUID) ledger.Utxo {
	return ledger.Utxo{ID: uuid.NewV4(), UserID: userID}
}

func TestApplyUpdateAddsAndRemovesUtxos(t *testing.T) {
	id := uuid.NewV4()
	keep := newUtxo(id)
	gone := newUtxo(id)
	u := New(id, []ledger.Utxo{gone}, 1)

	added := newUtxo(id)
	u.applyUpdate(ledger.UserUpdate{
		UtxosAdded:   []ledger.Utxo{added, keep},
		UtxosDeleted: []ledger.Utxo{gone},
	})

	require.Equal(t, 2, u.UtxoCount())
	_, stillHasGone := u.utxos[gone.ID]
	require.False(t, stillHasGone)
}

func TestHandleResponseBuffersMismatchedRequestID(t *testing.T) {
	id := uuid.NewV4()
	u := New(id, nil, 1)

	txBus := bus.New[ledger.Transaction]()
	sub := txBus.Subscribe()

	awaited := uuid.NewV4()
	u.awaiting = awaited
	u.pendingSpendIDs = []uuid.UUID{}

	mismatched := ledger.WitnessResponse{RequestID: uuid.NewV4()}
	u.handleResponse(mismatched, txBus)

	// Mismatched response must not clear `awaiting`, and must be buffered.
	require.Equal(t, awaited, u.awaiting)
	_, ok := u.mismatchBuffer.Get(mismatched.RequestID)
	require.True(t, ok)

	select {
	case <-sub:
		t.Fatal("a mismatched response must not trigger a spend")
	default:
	}
}

func TestHandleResponseMatchingRequestIDSubmitsSpend(t *testing.T) {
	id := uuid.NewV4()
	spend := newUtxo(id)
	u := New(id, []ledger.Utxo{spend}, 1)

	txBus := bus.New[ledger.Transaction]()
	sub := txBus.Subscribe()

	reqID := uuid.NewV4()
	u.awaiting = reqID
	u.pendingSpendIDs = []uuid.UUID{spend.ID}
	u.locked[spend.ID] = struct{}{}

	resp := ledger.WitnessResponse{
		RequestID: reqID,
		UtxosWithWitnesses: []ledger.UtxoWitness{
			{Utxo: spend},
		},
	}
	u.handleResponse(resp, txBus)

	require.Equal(t, uuid.Nil, u.awaiting)
	select {
	case tx := <-sub:
		require.Len(t, tx.UtxosSpentWithWitnesses, 1)
		require.Equal(t, spend.ID, tx.UtxosSpentWithWitnesses[0].Utxo.ID)
		require.Len(t, tx.UtxosCreated, 1)
	case <-time.After(time.Second):
		t.Fatal("expected a submitted transaction")
	}
}

func TestMaybeSpendSkipsWhenAlreadyAwaiting(t *testing.T) {
	id := uuid.NewV4()
	u := New(id, []ledger.Utxo{newUtxo(id)}, 1)
	u.awaiting = uuid.NewV4()

	reqBus := bus.New[ledger.WitnessRequest]()
	sub := reqBus.Subscribe()

	u.maybeSpend(reqBus)

	select {
	case <-sub:
		t.Fatal("must not issue a new request while one is outstanding")
	default:
	}
}

func TestLoopExitsOnContextCancel(t *testing.T) {
	id := uuid.NewV4()
	u := New(id, nil, 1)

	updateCh := make(chan ledger.UserUpdate)
	respBus := bus.New[ledger.WitnessResponse]()
	reqBus := bus.New[ledger.WitnessRequest]()
	txBus := bus.New[ledger.Transaction]()

	ctx, cancel := context.WithCancel(context.Background())
	u.Start(ctx, 5*time.Millisecond, updateCh, respBus, reqBus, txBus)
	cancel()

	done := make(chan struct{})
	go func() { u.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("user loop did not exit after context cancel")
	}
}
