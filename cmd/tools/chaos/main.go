package main

import (
	"context"
	"flag"
	"os"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/bus"
	"tradesim/internal/chaos"
	"tradesim/internal/core"
	"tradesim/internal/journal"
	"tradesim/internal/market"
	"tradesim/internal/obs"
	"tradesim/internal/ops"
)

// chaos runs the engine headless under injected faults and checks that the
// simulation keeps ticking and the account stays consistent.
func main() {
	configPath := flag.String("config", "", "Path to JSON config (default: built-in)")
	ticks := flag.Int("ticks", 1000, "Ticks to simulate")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	panicRate := flag.Float64("panic-rate", 0.05, "Price model panic probability per tick")
	freezeRate := flag.Float64("freeze-rate", 0.05, "Price model freeze probability per tick")
	shockRate := flag.Float64("shock-rate", 0.01, "Price shock probability per tick")
	maxShock := flag.Float64("max-shock", 0.1, "Largest shock as a fraction of price")
	dropRate := flag.Float64("drop-rate", 0, "Event drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "Event duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "Event reorder window (>=1)")
	outputDir := flag.String("output-dir", "", "Journal the perturbed event stream here")
	flag.Parse()

	cfg := chaos.Config{
		Seed:          *seed,
		PanicRate:     *panicRate,
		FreezeRate:    *freezeRate,
		ShockRate:     *shockRate,
		MaxShock:      *maxShock,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
	}
	if err := run(*configPath, *ticks, cfg, *outputDir); err != nil {
		logs.Errorf("chaos run failed, err: %+v", err)
		os.Exit(1)
	}
}

func run(configPath string, ticks int, cfg chaos.Config, outputDir string) error {
	loaded := ops.Default()
	if configPath != "" {
		var err error
		if loaded, err = ops.Load(configPath); err != nil {
			return err
		}
	}
	if cfg.Seed != 0 {
		loaded.Engine.Seed = cfg.Seed
	}

	base, err := market.NewModel(loaded.Engine.Market)
	if err != nil {
		return err
	}
	model, err := chaos.NewModel(base, cfg)
	if err != nil {
		return err
	}
	stream, err := chaos.NewStream(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out *journal.Writer
	if outputDir != "" {
		jc := journal.DefaultConfig(outputDir)
		jc.Prefix = "chaos"
		if out, err = journal.NewWriter(jc); err != nil {
			return err
		}
		if err := out.Start(ctx); err != nil {
			return err
		}
	}

	queue := bus.NewQueue(4096)
	metrics := obs.NewMetrics()
	engine, err := core.NewEngine(loaded.Engine, loaded.Registry,
		core.WithPriceModel(model), core.WithBus(queue), core.WithMetrics(metrics))
	if err != nil {
		return err
	}

	var delivered int
	deliver := func(events []bus.Event) {
		for _, e := range events {
			delivered++
			if out != nil {
				_ = out.Append(e)
			}
		}
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Run(ctx, func(e bus.Event) { deliver(stream.Process(e)) })
	}()

	began := time.Now()
	for i := 0; i < ticks; i++ {
		engine.Step()
	}
	queue.Close()
	wg.Wait()
	deliver(stream.Flush())

	if out != nil {
		if err := out.Close(); err != nil {
			return errors.Wrap(err, "close journal")
		}
	}

	if got := engine.Tick(); got != uint64(ticks) {
		return errors.Errorf("engine stalled: tick=%d want=%d", got, ticks)
	}
	p := engine.Portfolio()
	if p.Cash.IsNegative() {
		return errors.Errorf("cash went negative: %s", p.Cash)
	}

	ms := metrics.Snapshot()
	cs, ss := model.Stats(), stream.Stats()
	logs.Infof("chaos: ticks=%d elapsed=%s panics=%d freezes=%d shocks=%d faults=%v",
		ticks, time.Since(began), cs.Panics, cs.Freezes, cs.Shocks, ms.Faults)
	logs.Infof("stream: delivered=%d dropped=%d duplicated=%d bus_drops=%d equity=%s",
		delivered, ss.Dropped, ss.Duplicated, ms.QueueDrops, p.Equity.StringFixed(2))
	return nil
}
