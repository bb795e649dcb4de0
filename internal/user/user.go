// Package user implements the single-threaded client role described in
// spec §4.3: it holds a local view of the UTXOs it owns, reconciles that
// view against the bridge's UserUpdate deltas, and periodically spends one
// of its UTXOs by requesting a fresh witness and submitting a transaction
// once it arrives. Unlike miner and bridge it needs no
// mutex — everything happens on the one goroutine Start spawns, the same
// single-loop-owns-its-state shape the teacher uses for any component that
// isn't shared across goroutines.
package user

import (
	"context"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	gometrics "github.com/rcrowley/go-metrics"
	uuid "github.com/satori/go.uuid"

	"github.com/cambrianlabs/accsim/internal/bus"
	"github.com/cambrianlabs/accsim/internal/ledger"
	"github.com/cambrianlabs/accsim/internal/xlog"
)

// mismatchBufferSize bounds how many witness responses addressed to other
// users (sharing this user's broadcast bus) a user will hold onto before
// the oldest is evicted. Responses keyed by a request_id this user isn't
// awaiting are never going to become useful later (spec §9: request ids
// are single-use), so an LRU eviction policy is the right structure —
// unlike a miner's pending-transaction set, which must retain everything.
const mismatchBufferSize = 64

// User tracks one participant's locally-known UTXOs and drives the
// request-witnesses-then-spend cycle.
type User struct {
	id uuid.UUID

	utxos  map[uuid.UUID]ledger.Utxo
	locked map[uuid.UUID]struct{}

	awaiting        uuid.UUID
	pendingSpendIDs []uuid.UUID

	mismatchBuffer *lru.Cache
	rng            *rand.Rand

	log *xlog.Logger

	txSubmittedCounter  gometrics.Counter
	witnessReqCounter   gometrics.Counter
	witnessRespCounter  gometrics.Counter
	mismatchBufCounter  gometrics.Counter
	updatesAppliedCount gometrics.Counter

	wg sync.WaitGroup
}

// New constructs a user seeded with its genesis UTXOs.
func New(id uuid.UUID, initialUtxos []ledger.Utxo, rngSeed int64) *User {
	buf, err := lru.New(mismatchBufferSize)
	if err != nil {
		// lru.New only fails for size <= 0, which mismatchBufferSize never is.
		panic(err)
	}

	utxos := make(map[uuid.UUID]ledger.Utxo, len(initialUtxos))
	for _, u := range initialUtxos {
		utxos[u.ID] = u
	}

	name := id.String()
	return &User{
		id:                  id,
		utxos:               utxos,
		locked:              make(map[uuid.UUID]struct{}),
		mismatchBuffer:      buf,
		rng:                 rand.New(rand.NewSource(rngSeed)),
		log:                 xlog.New("user." + name),
		txSubmittedCounter:  gometrics.NewRegisteredCounter("user/"+name+"/txsubmitted", nil),
		witnessReqCounter:   gometrics.NewRegisteredCounter("user/"+name+"/witnessrequests", nil),
		witnessRespCounter:  gometrics.NewRegisteredCounter("user/"+name+"/witnessresponses", nil),
		mismatchBufCounter:  gometrics.NewRegisteredCounter("user/"+name+"/mismatchedresponses", nil),
		updatesAppliedCount: gometrics.NewRegisteredCounter("user/"+name+"/updatesapplied", nil),
	}
}

// ID returns the user's identity.
func (u *User) ID() uuid.UUID { return u.id }

// UtxoCount reports how many UTXOs this user currently believes it owns,
// for status reporting only; it is read from outside the user's own
// goroutine so callers must only use it after Wait returns.
func (u *User) UtxoCount() int { return len(u.utxos) }

// Start spawns the user's single activity loop.
func (u *User) Start(ctx context.Context, spendInterval time.Duration, updateSub <-chan ledger.UserUpdate, respBus *bus.Bus[ledger.WitnessResponse], reqBus *bus.Bus[ledger.WitnessRequest], txBus *bus.Bus[ledger.Transaction]) {
	u.wg.Add(1)
	go u.loop(ctx, spendInterval, updateSub, respBus, reqBus, txBus)
}

// Wait blocks until the user's loop has returned.
func (u *User) Wait() { u.wg.Wait() }

func (u *User) loop(ctx context.Context, spendInterval time.Duration, updateSub <-chan ledger.UserUpdate, respBus *bus.Bus[ledger.WitnessResponse], reqBus *bus.Bus[ledger.WitnessRequest], txBus *bus.Bus[ledger.Transaction]) {
	defer u.wg.Done()

	respSub := respBus.Subscribe()
	ticker := time.NewTicker(spendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updateSub:
			if !ok {
				return
			}
			u.applyUpdate(upd)
		case resp, ok := <-respSub:
			if !ok {
				return
			}
			u.handleResponse(resp, txBus)
		case <-ticker.C:
			u.maybeSpend(reqBus)
		}
	}
}

// applyUpdate reconciles a bridge's per-block delta into the local UTXO
// view (spec §4.3): additions are adopted outright, deletions clear both
// the owned set and any in-flight lock.
func (u *User) applyUpdate(upd ledger.UserUpdate) {
	if upd.Empty() {
		return
	}
	for _, a := range upd.UtxosAdded {
		u.utxos[a.ID] = a
	}
	for _, d := range upd.UtxosDeleted {
		delete(u.utxos, d.ID)
		delete(u.locked, d.ID)
	}
	u.updatesAppliedCount.Inc(1)
	u.log.Debug("applied user update", "added", len(upd.UtxosAdded), "deleted", len(upd.UtxosDeleted))
}

// handleResponse implements the resolved Open Question from spec §9:
// a WitnessResponse whose request_id isn't the one this user is currently
// awaiting is buffered, not discarded, since the response bus is shared
// across every user on the same bridge (Scenario Test 5).
func (u *User) handleResponse(resp ledger.WitnessResponse, txBus *bus.Bus[ledger.Transaction]) {
	if u.awaiting == uuid.Nil || resp.RequestID != u.awaiting {
		u.mismatchBuffer.Add(resp.RequestID, resp)
		u.mismatchBufCounter.Inc(1)
		return
	}

	u.witnessRespCounter.Inc(1)
	u.submitSpend(resp, txBus)
	u.awaiting = uuid.Nil
	u.pendingSpendIDs = nil
}

// maybeSpend selects one unlocked UTXO and requests a fresh witness for
// it (spec §4.3 step 1: "Select one owned Utxo u to spend"). At most one
// request is ever in flight per the single-threaded loop; the eventual
// response drives submitSpend.
func (u *User) maybeSpend(reqBus *bus.Bus[ledger.WitnessRequest]) {
	if u.awaiting != uuid.Nil {
		return
	}

	var available []ledger.Utxo
	for id, utxo := range u.utxos {
		if _, locked := u.locked[id]; locked {
			continue
		}
		available = append(available, utxo)
	}
	if len(available) == 0 {
		return
	}

	chosen := available[u.rng.Intn(len(available))]
	u.locked[chosen.ID] = struct{}{}

	requestID := uuid.NewV4()
	u.awaiting = requestID
	u.pendingSpendIDs = []uuid.UUID{chosen.ID}

	reqBus.Send(ledger.WitnessRequest{UserID: u.id, RequestID: requestID, Utxos: []ledger.Utxo{chosen}})
	u.witnessReqCounter.Inc(1)
	u.log.Debug("requested witness", "request_id", requestID, "utxo_id", chosen.ID)
}

// submitSpend builds and sends the transaction that spends
// pendingSpendIDs using the witnesses just received, minting an equal
// number of fresh UTXOs back to the same user.
func (u *User) submitSpend(resp ledger.WitnessResponse, txBus *bus.Bus[ledger.Transaction]) {
	witnessFor := make(map[uuid.UUID]ledger.UtxoWitness, len(resp.UtxosWithWitnesses))
	for _, uw := range resp.UtxosWithWitnesses {
		witnessFor[uw.Utxo.ID] = uw
	}

	spent := make([]ledger.UtxoWitness, 0, len(u.pendingSpendIDs))
	for _, id := range u.pendingSpendIDs {
		uw, ok := witnessFor[id]
		if !ok {
			// the bridge didn't answer for one of the requested ids; drop
			// the spend attempt rather than submit an incomplete transaction.
			u.log.Warn("witness response missing requested utxo", "utxo_id", id)
			for _, pid := range u.pendingSpendIDs {
				delete(u.locked, pid)
			}
			return
		}
		spent = append(spent, uw)
	}

	created := make([]ledger.Utxo, len(spent))
	for i := range spent {
		created[i] = ledger.Utxo{ID: uuid.NewV4(), UserID: u.id}
	}

	txBus.Send(ledger.Transaction{UtxosCreated: created, UtxosSpentWithWitnesses: spent})
	u.txSubmittedCounter.Inc(1)
}
