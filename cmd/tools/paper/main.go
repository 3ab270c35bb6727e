package main

import (
	"flag"
	"os"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/core"
	"tradesim/internal/indicator"
	"tradesim/internal/ops"
	"tradesim/internal/schema"
)

// botSpec is one entry of the -bots file.
type botSpec struct {
	Symbol     string          `json:"symbol"`
	Strategy   schema.Strategy `json:"strategy"`
	Capital    decimal.Decimal `json:"capital"`
	IntervalMs int64           `json:"intervalMs"`
}

// paper runs a set of bots headless against the simulated market and reports
// how each one did.
func main() {
	configPath := flag.String("config", "", "Path to JSON config (default: built-in)")
	botsPath := flag.String("bots", "", "JSON array of bots: [{symbol, strategy, capital, intervalMs}]")
	ticks := flag.Int("ticks", 3600, "Ticks to simulate")
	seed := flag.Int64("seed", 1, "Seed (overrides config)")
	flag.Parse()

	if err := run(*configPath, *botsPath, *ticks, *seed); err != nil {
		logs.Errorf("paper failed, err: %+v", err)
		os.Exit(1)
	}
}

func run(configPath, botsPath string, ticks int, seed int64) error {
	if ticks <= 0 {
		return errors.New("ticks must be > 0")
	}
	loaded := ops.Default()
	if configPath != "" {
		var err error
		if loaded, err = ops.Load(configPath); err != nil {
			return err
		}
	}
	loaded.Engine.Seed = seed
	loaded.Engine.Features.Bots = true

	specs, err := loadBots(botsPath, loaded.Registry)
	if err != nil {
		return err
	}

	engine, err := core.NewEngine(loaded.Engine, loaded.Registry)
	if err != nil {
		return err
	}
	for _, s := range specs {
		b, err := engine.CreateBot(s.Symbol, s.Strategy, s.Capital, time.Duration(s.IntervalMs)*time.Millisecond)
		if err != nil {
			return errors.Wrapf(err, "create bot %s/%s", s.Symbol, s.Strategy)
		}
		logs.Infof("bot %s: %s on %s capital=%s every %s", b.ID, b.Strategy, b.Symbol, b.Capital, b.Interval)
	}

	equity := make([]float64, 0, ticks)
	for i := 0; i < ticks; i++ {
		engine.Step()
		equity = append(equity, engine.Portfolio().Equity.InexactFloat64())
	}

	report(engine.Snapshot(), equity)
	return nil
}

func loadBots(path string, reg *schema.Registry) ([]botSpec, error) {
	if path == "" {
		// one bot of each strategy on the first listed instrument
		ins, ok := reg.At(0)
		if !ok {
			return nil, errors.New("registry is empty")
		}
		out := make([]botSpec, 0, 3)
		for _, s := range []schema.Strategy{schema.StrategyTrendFollowing, schema.StrategyMeanReversion, schema.StrategyBreakout} {
			out = append(out, botSpec{Symbol: ins.Symbol, Strategy: s, Capital: decimal.NewFromInt(5_000), IntervalMs: 30_000})
		}
		return out, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open bots")
	}
	defer f.Close()

	var specs []botSpec
	if err := sonic.ConfigFastest.NewDecoder(f).Decode(&specs); err != nil {
		return nil, errors.Wrap(err, "decode bots")
	}
	if len(specs) == 0 {
		return nil, errors.New("bots file is empty")
	}
	return specs, nil
}

type botResult struct {
	trades int
	wins   int
	pnl    decimal.Decimal
}

func report(v core.View, equity []float64) {
	results := make(map[string]*botResult)
	for _, b := range v.Bots {
		results[b.ID] = &botResult{pnl: decimal.Zero}
	}
	for _, tr := range v.Trades {
		r, ok := results[tr.Owner]
		if !ok {
			continue
		}
		r.trades++
		r.pnl = r.pnl.Add(tr.PnL)
		if tr.PnL.IsPositive() {
			r.wins++
		}
	}

	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := results[id]
		logs.Infof("%s: closed=%d wins=%d realized=%s", id, r.trades, r.wins, r.pnl.StringFixed(2))
	}

	mean, std, _ := indicator.MeanStdDev(equity)
	logs.Infof("portfolio: equity=%s cash=%s open=%d trades=%d win_rate=%.1f%% max_drawdown=%.2f%% equity_mean=%.2f equity_std=%.2f",
		v.Portfolio.Equity.StringFixed(2), v.Portfolio.Cash.StringFixed(2), len(v.Positions),
		v.Stats.Trades, v.Stats.WinRate, v.Stats.MaxDrawdown, mean, std)
}
