// Command accsim runs the miner/bridge/user accumulator simulation
// described by internal/sim, configured from the command line the way
// cmd/kcn/main.go wires node flags into a cli.App.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/cambrianlabs/accsim/internal/config"
	"github.com/cambrianlabs/accsim/internal/sim"
	"github.com/cambrianlabs/accsim/internal/xlog"
)

var log = xlog.New("cmd")

var (
	minersFlag        = cli.IntFlag{Name: "miners", Value: config.Default().MinerCount, Usage: "number of miners (the first is the leader)"}
	bridgesFlag       = cli.IntFlag{Name: "bridges", Value: config.Default().BridgeCount, Usage: "number of bridges"}
	usersFlag         = cli.IntFlag{Name: "users-per-bridge", Value: config.Default().UsersPerBridge, Usage: "users assigned to each bridge"}
	blockIntervalFlag = cli.DurationFlag{Name: "block-interval", Value: config.Default().BlockInterval, Usage: "leader forge interval"}
	groupBitsFlag     = cli.IntFlag{Name: "group-bits", Value: config.Default().GroupBits, Usage: "bit length of each accumulator modulus prime factor"}
	workersFlag       = cli.IntFlag{Name: "witness-workers", Value: config.Default().WitnessWorkers, Usage: "worker pool size per bridge for root-factor computation"}
	seedFlag          = cli.Int64Flag{Name: "seed", Value: config.Default().Seed, Usage: "random seed for user spend-selection"}
	durationFlag      = cli.DurationFlag{Name: "duration", Value: 10 * time.Second, Usage: "how long to run the simulation before shutting down"}
)

func main() {
	app := cli.NewApp()
	app.Name = "accsim"
	app.Usage = "cryptographic accumulator UTXO ledger simulation"
	app.Flags = []cli.Flag{
		minersFlag, bridgesFlag, usersFlag, blockIntervalFlag,
		groupBitsFlag, workersFlag, seedFlag, durationFlag,
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Error("simulation exited with error", "err", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Config{
		MinerCount:     c.Int(minersFlag.Name),
		BridgeCount:    c.Int(bridgesFlag.Name),
		UsersPerBridge: c.Int(usersFlag.Name),
		BlockInterval:  c.Duration(blockIntervalFlag.Name),
		GroupBits:      c.Int(groupBitsFlag.Name),
		WitnessWorkers: c.Int(workersFlag.Name),
		Seed:           c.Int64(seedFlag.Name),
	}
	duration := c.Duration(durationFlag.Name)

	log.Info("starting simulation",
		"miners", cfg.MinerCount, "bridges", cfg.BridgeCount,
		"users_per_bridge", cfg.UsersPerBridge, "duration", duration)

	summary, err := sim.Run(context.Background(), cfg, duration)
	if err != nil {
		return err
	}

	log.Info("simulation complete")
	for i, h := range summary.MinerHeights {
		log.Info("miner final state", "miner", i, "height", h)
	}
	for i, s := range summary.BridgeSnapshots {
		log.Info("bridge final state", "bridge", i, "height", s.Height, "tracked_utxos", s.TrackedUtxos)
	}
	for i, n := range summary.UserUtxoCounts {
		log.Info("user final state", "user", i, "utxos", n)
	}
	return nil
}
