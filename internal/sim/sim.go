// Package sim wires up one simulation run: it generates the genesis
// accumulator and per-user UTXOs, partitions users across bridges,
// pre-computes each bridge's initial aggregate witness, spawns every
// miner/bridge/user goroutine over the bus topology spec §2 describes, runs
// for a fixed duration, then shuts everything down gracefully and reports a
// summary. Grounded on `original_source/src/bin/simulation.rs` and
// `src/bin/main.rs` for the genesis/wiring sequence, and on
// `1a1024b5_LarryRuane-minesim__minesim.go.go`'s end-of-run summary
// printout for the harness-level reporting shape.
package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/cambrianlabs/accsim/internal/bridge"
	"github.com/cambrianlabs/accsim/internal/bus"
	"github.com/cambrianlabs/accsim/internal/config"
	"github.com/cambrianlabs/accsim/internal/group"
	"github.com/cambrianlabs/accsim/internal/ledger"
	"github.com/cambrianlabs/accsim/internal/miner"
	"github.com/cambrianlabs/accsim/internal/user"
	"github.com/cambrianlabs/accsim/internal/workerpool"
	"github.com/cambrianlabs/accsim/internal/xlog"
)

// genesisUtxosPerUser is how many UTXOs each user starts with.
const genesisUtxosPerUser = 3

var log = xlog.New("sim")

// Summary reports the final state of one simulation run.
type Summary struct {
	MinerHeights    []uint64
	BridgeSnapshots []bridge.Snapshot
	UserUtxoCounts  []int
}

func primesOf(utxos []ledger.Utxo) []*big.Int {
	out := make([]*big.Int, len(utxos))
	for i, u := range utxos {
		out[i] = u.Prime()
	}
	return out
}

// Run builds the full topology described by cfg, runs it for runDuration,
// then shuts down gracefully and returns a summary.
func Run(ctx context.Context, cfg config.Config, runDuration time.Duration) (Summary, error) {
	grp, err := group.NewGroup(cfg.GroupBits)
	if err != nil {
		return Summary{}, err
	}

	totalUsers := cfg.BridgeCount * cfg.UsersPerBridge
	userIDs := make([]uuid.UUID, totalUsers)
	genesisUtxos := make(map[uuid.UUID][]ledger.Utxo, totalUsers)
	var allUtxos []ledger.Utxo

	for i := range userIDs {
		userIDs[i] = uuid.NewV4()
		utxos := make([]ledger.Utxo, genesisUtxosPerUser)
		for j := range utxos {
			utxos[j] = ledger.Utxo{ID: uuid.NewV4(), UserID: userIDs[i]}
		}
		genesisUtxos[userIDs[i]] = utxos
		allUtxos = append(allUtxos, utxos...)
	}

	allElemsPrimes := primesOf(allUtxos)
	genesisAcc := grp.Empty().Add(allElemsPrimes)
	log.Info("genesis accumulator computed", "users", totalUsers, "utxos", len(allElemsPrimes))

	runCtx, cancel := context.WithTimeout(ctx, runDuration)
	defer cancel()

	blockBus := bus.New[ledger.Block]()
	txBus := bus.New[ledger.Transaction]()

	miners := make([]*miner.Miner, cfg.MinerCount)
	for i := range miners {
		name := fmt.Sprintf("miner-%d", i)
		miners[i] = miner.New(name, i == 0, genesisAcc)
		miners[i].Start(runCtx, cfg.BlockInterval, blockBus, blockBus.Subscribe(), txBus.Subscribe())
	}

	bridges := make([]*bridge.Bridge, cfg.BridgeCount)
	bridgeWGs := make([]*sync.WaitGroup, cfg.BridgeCount)
	pools := make([]*workerpool.Pool, cfg.BridgeCount)
	reqBuses := make([]*bus.Bus[ledger.WitnessRequest], cfg.BridgeCount)
	respBuses := make([]*bus.Bus[ledger.WitnessResponse], cfg.BridgeCount)
	userUpdateChans := make(map[uuid.UUID]chan ledger.UserUpdate, totalUsers)
	var users []*user.User

	userIndex := 0
	for bi := 0; bi < cfg.BridgeCount; bi++ {
		bridgeUserIDs := userIDs[bi*cfg.UsersPerBridge : (bi+1)*cfg.UsersPerBridge]

		var bridgeUtxos []ledger.Utxo
		senders := make(map[uuid.UUID]chan<- ledger.UserUpdate, len(bridgeUserIDs))
		for _, uid := range bridgeUserIDs {
			ch := make(chan ledger.UserUpdate, bus.Capacity)
			userUpdateChans[uid] = ch
			senders[uid] = ch
			bridgeUtxos = append(bridgeUtxos, genesisUtxos[uid]...)
		}

		bridgeElems := primesOf(bridgeUtxos)
		bridgeWitness := grp.Empty().ComputeSubsetWitness(allElemsPrimes, bridgeElems)

		pool := workerpool.New(cfg.WitnessWorkers)
		pools[bi] = pool

		id := fmt.Sprintf("bridge-%d", bi)
		b := bridge.New(id, bridgeWitness, bridgeUtxos, senders, pool)
		bridges[bi] = b

		reqBus := bus.New[ledger.WitnessRequest]()
		respBus := bus.New[ledger.WitnessResponse]()
		reqBuses[bi] = reqBus
		respBuses[bi] = respBus
		bridgeWGs[bi] = b.Start(blockBus.Subscribe(), reqBus.Subscribe(), respBus)

		for _, uid := range bridgeUserIDs {
			u := user.New(uid, genesisUtxos[uid], cfg.Seed+int64(userIndex))
			u.Start(runCtx, cfg.BlockInterval*3, userUpdateChans[uid], respBus, reqBus, txBus)
			users = append(users, u)
			userIndex++
		}
	}

	log.Info("topology wired", "miners", cfg.MinerCount, "bridges", cfg.BridgeCount, "users", totalUsers)

	<-runCtx.Done()
	log.Info("run duration elapsed, shutting down")

	// Every producer that sends on a bus also watches runCtx and stops on
	// its own once it's done; the grace period below just gives those
	// goroutines (miner forge loop, user loop) a moment to observe
	// cancellation before we close the buses they send on, so Close never
	// races a send on an already-closed bus.
	time.Sleep(20 * time.Millisecond)

	txBus.Close()
	blockBus.Close()
	for _, m := range miners {
		m.Wait()
	}
	for _, u := range users {
		u.Wait()
	}

	for _, rb := range reqBuses {
		rb.Close()
	}
	for _, wg := range bridgeWGs {
		wg.Wait()
	}
	for _, rb := range respBuses {
		rb.Close()
	}
	for _, ch := range userUpdateChans {
		close(ch)
	}
	for _, p := range pools {
		p.Close()
	}

	summary := Summary{}
	for _, m := range miners {
		summary.MinerHeights = append(summary.MinerHeights, m.Height())
	}
	for _, b := range bridges {
		summary.BridgeSnapshots = append(summary.BridgeSnapshots, b.Snapshot())
	}
	for _, u := range users {
		summary.UserUtxoCounts = append(summary.UserUtxoCounts, u.UtxoCount())
	}
	return summary, nil
}
