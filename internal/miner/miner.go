// Package miner implements the leader-driven block production and
// validation pipeline described in spec §4.1: intake deduplicates pending
// transactions, forge (leader only) batches them into a block on a fixed
// interval, and validate advances the accumulator once a block's proofs
// check out. All three activities share one miner's state behind a single
// mutex, the same shape as the teacher's work.worker guarding its current
// Task behind one sync.Mutex (work/worker.go).
package miner

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/cambrianlabs/accsim/internal/bus"
	"github.com/cambrianlabs/accsim/internal/group"
	"github.com/cambrianlabs/accsim/internal/ledger"
	"github.com/cambrianlabs/accsim/internal/xlog"
)

// Miner holds the canonical accumulator for one participant and, if it is
// the leader, forges blocks on an interval.
type Miner struct {
	name     string
	isLeader bool

	mu            sync.Mutex
	acc           group.Accumulator
	height        uint64
	pending       []ledger.Transaction
	pendingDigest map[[32]byte]struct{}

	log *xlog.Logger

	forgedCounter    gometrics.Counter
	validatedCounter gometrics.Counter
	rejectedCounter  gometrics.Counter

	wg sync.WaitGroup
}

// New creates a miner seeded with the genesis accumulator. Per spec §3
// ("Bridges and miners are created at genesis with a pre-computed initial
// accumulator"), initAcc must already commit to the union of all users'
// genesis UTXOs.
func New(name string, isLeader bool, initAcc group.Accumulator) *Miner {
	return &Miner{
		name:             name,
		isLeader:         isLeader,
		acc:              initAcc,
		pendingDigest:    make(map[[32]byte]struct{}),
		log:              xlog.New("miner." + name),
		forgedCounter:    gometrics.NewRegisteredCounter("miner/"+name+"/blocksforged", nil),
		validatedCounter: gometrics.NewRegisteredCounter("miner/"+name+"/blocksvalidated", nil),
		rejectedCounter:  gometrics.NewRegisteredCounter("miner/"+name+"/blocksrejected", nil),
	}
}

// Height returns the miner's current block height.
func (m *Miner) Height() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height
}

// Accumulator returns the miner's current accumulator value.
func (m *Miner) Accumulator() group.Accumulator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acc
}

// Start spawns the miner's activities: transaction intake, block
// validation, and (if leader) periodic forging. It returns immediately; use
// Wait to block until txSub and blockSub are both closed and (for the
// leader) ctx is done.
func (m *Miner) Start(ctx context.Context, blockInterval time.Duration, blockBus *bus.Bus[ledger.Block], blockSub <-chan ledger.Block, txSub <-chan ledger.Transaction) {
	m.wg.Add(2)
	go m.intake(txSub)
	go m.validateLoop(blockSub)

	if m.isLeader {
		m.wg.Add(1)
		go m.forgeLoop(ctx, blockInterval, blockBus)
	}
}

// Wait blocks until every spawned activity has returned.
func (m *Miner) Wait() { m.wg.Wait() }

func (m *Miner) intake(txSub <-chan ledger.Transaction) {
	defer m.wg.Done()
	for tx := range txSub {
		m.addTransaction(tx)
	}
}

func (m *Miner) addTransaction(tx ledger.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	digest := tx.Digest()
	if _, ok := m.pendingDigest[digest]; ok {
		return
	}
	m.pendingDigest[digest] = struct{}{}
	m.pending = append(m.pending, tx)
}

func (m *Miner) forgeLoop(ctx context.Context, interval time.Duration, blockBus *bus.Bus[ledger.Block]) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			blk, ok := m.forgeBlock()
			if !ok {
				continue
			}
			blockBus.Send(blk)
		}
	}
}

// forgeBlock snapshots pending transactions under lock, derives the
// add/delete element sets, and drives the accumulator's delete-then-add
// proof machinery per spec §4.1. The miner's own state is left untouched:
// it only advances once this same block comes back through validate.
func (m *Miner) forgeBlock() (ledger.Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elemsAdded, elemsDeleted := ledger.ElemsFromTransactions(m.pending)

	accAfterDelete, proofDeleted, err := m.acc.DeleteWithProof(elemsDeleted)
	if err != nil {
		panic(err)
	}
	accNew, proofAdded := accAfterDelete.AddWithProof(elemsAdded)

	txs := make([]ledger.Transaction, len(m.pending))
	copy(txs, m.pending)

	blk := ledger.Block{
		Height:       m.height + 1,
		Transactions: txs,
		AccNew:       accNew,
		ProofAdded:   proofAdded,
		ProofDeleted: proofDeleted,
	}

	m.log.Info("forged block", "height", blk.Height, "added", len(elemsAdded), "deleted", len(elemsDeleted))
	m.forgedCounter.Inc(1)
	return blk, true
}

func (m *Miner) validateLoop(blockSub <-chan ledger.Block) {
	defer m.wg.Done()
	for blk := range blockSub {
		m.validateBlock(blk)
	}
}

// validateBlock implements spec §4.1's validate algorithm: reject
// idempotently on height mismatch, otherwise assert the three proof
// properties and adopt the block. Any failed assertion is a protocol
// violation and is fatal.
func (m *Miner) validateBlock(blk ledger.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if blk.Height != m.height+1 {
		m.rejectedCounter.Inc(1)
		return
	}

	elemsAdded, elemsDeletedWithWit := ledger.ElemsFromTransactions(blk.Transactions)
	elemsDeleted := ledger.ElemsOnly(elemsDeletedWithWit)

	if !m.acc.VerifyMembership(elemsDeleted, blk.ProofDeleted) {
		panic(errors.Wrapf(group.ErrProtocolViolation, "miner %s: block %d proof_deleted failed to verify", m.name, blk.Height))
	}
	if !blk.AccNew.VerifyMembership(elemsAdded, blk.ProofAdded) {
		panic(errors.Wrapf(group.ErrProtocolViolation, "miner %s: block %d proof_added failed to verify", m.name, blk.Height))
	}
	if !blk.ProofDeleted.Witness.Equal(blk.ProofAdded.Witness) {
		panic(errors.Wrapf(group.ErrProtocolViolation, "miner %s: block %d proof witnesses disagree", m.name, blk.Height))
	}

	m.acc = blk.AccNew
	m.height = blk.Height
	m.pending = nil
	m.pendingDigest = make(map[[32]byte]struct{})

	m.log.Info("validated block", "height", blk.Height)
	m.validatedCounter.Inc(1)
}
