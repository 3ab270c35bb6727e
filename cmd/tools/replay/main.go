package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/bus"
	"tradesim/internal/core"
	"tradesim/internal/journal"
	"tradesim/internal/ops"
	"tradesim/internal/schema"
	"tradesim/internal/state"
)

// replay has two modes:
//
//	-journal <dir>           print the events recorded by cmd/sim
//	-ticks <n> [-seed <s>]   run the engine headless and write or verify a snapshot
func main() {
	journalDir := flag.String("journal", "", "Journal directory to print")
	prefix := flag.String("prefix", "", "Journal file prefix (default: events)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	decode := flag.Bool("decode", false, "Print event payloads")

	configPath := flag.String("config", "", "Path to JSON config (default: built-in)")
	ticks := flag.Int("ticks", 0, "Ticks to simulate headless")
	seed := flag.Int64("seed", 1, "Seed for the headless run (overrides config)")
	start := flag.String("start", "2024-01-02T09:30:00Z", "Virtual clock start (RFC3339)")
	from := flag.String("from", "", "Restore this snapshot before simulating")
	out := flag.String("out", "", "Write the final snapshot here")
	verify := flag.String("verify", "", "Compare the final snapshot against this file")
	flag.Parse()

	ctx := context.Background()
	var err error
	switch {
	case *journalDir != "":
		err = printJournal(ctx, journal.ReplayConfig{Dir: *journalDir, Prefix: *prefix, Speed: *speed}, *decode)
	case *ticks > 0:
		err = simulate(headless{
			configPath: *configPath,
			ticks:      *ticks,
			seed:       *seed,
			start:      *start,
			from:       *from,
			out:        *out,
			verify:     *verify,
		})
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logs.Errorf("replay failed, err: %+v", err)
		os.Exit(1)
	}
}

func printJournal(ctx context.Context, cfg journal.ReplayConfig, decode bool) error {
	counts := make(map[schema.EventType]int)
	realized := decimal.Zero
	var total int
	var lastTick uint64

	err := journal.Replay(ctx, cfg, func(e bus.Event) error {
		total++
		counts[e.Header.Type]++
		lastTick = e.Header.Tick
		fmt.Printf("%06d seq=%d tick=%d type=%s ts=%s len=%d\n", total, e.Header.Seq, e.Header.Tick, e.Header.Type,
			time.Unix(0, e.Header.TsEvent).UTC().Format(time.RFC3339), len(e.Payload))
		if decode && e.Header.Type != schema.EventSnapshot {
			fmt.Printf("  %s\n", e.Payload)
		}
		if e.Header.Type == schema.EventPositionClosed {
			var tr schema.TradeRecord
			if err := sonic.ConfigFastest.Unmarshal(e.Payload, &tr); err != nil {
				return errors.Wrapf(err, "decode trade seq=%d", e.Header.Seq)
			}
			realized = realized.Add(tr.PnL)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logs.Infof("journal: events=%d last_tick=%d counts=%v realized_pnl=%s", total, lastTick, counts, realized.StringFixed(2))
	return nil
}

type headless struct {
	configPath string
	ticks      int
	seed       int64
	start      string
	from       string
	out        string
	verify     string
}

func simulate(h headless) error {
	loaded := ops.Default()
	if h.configPath != "" {
		var err error
		if loaded, err = ops.Load(h.configPath); err != nil {
			return err
		}
	}
	startAt, err := time.Parse(time.RFC3339, h.start)
	if err != nil {
		return errors.Wrap(err, "parse start")
	}
	loaded.Engine.Seed = h.seed

	engine, err := core.NewEngine(loaded.Engine, loaded.Registry, core.WithStart(startAt))
	if err != nil {
		return err
	}
	if h.from != "" {
		snap, err := state.ReadSnapshot(h.from)
		if err != nil {
			return err
		}
		if err := engine.Restore(snap); err != nil {
			return err
		}
	}

	began := time.Now()
	for i := 0; i < h.ticks; i++ {
		engine.Step()
	}
	snap := engine.Export()
	p := engine.Portfolio()
	logs.Infof("simulated ticks=%d tick=%d clock=%s equity=%s cash=%s positions=%d elapsed=%s",
		h.ticks, snap.Tick, snap.Clock.Format(time.RFC3339), p.Equity.StringFixed(2), p.Cash.StringFixed(2),
		len(snap.Ledger.Positions), time.Since(began))

	if h.out != "" {
		if err := state.WriteSnapshot(h.out, snap); err != nil {
			return err
		}
		logs.Infof("snapshot written: %s", h.out)
	}
	if h.verify != "" {
		expected, err := state.ReadSnapshot(h.verify)
		if err != nil {
			return err
		}
		if err := state.CompareSnapshots(expected, snap); err != nil {
			return err
		}
		logs.Infof("snapshot verified: assets=%d positions=%d", len(snap.Market.Assets), len(snap.Ledger.Positions))
	}
	return nil
}
