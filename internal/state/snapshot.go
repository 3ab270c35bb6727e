package state

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"tradesim/internal/bot"
	"tradesim/internal/ledger"
	"tradesim/internal/market"
	"tradesim/internal/news"
	"tradesim/internal/orderbook"
	"tradesim/internal/schema"
	"tradesim/internal/volatility"
	"tradesim/pkg/exception"
)

// SnapshotVersion is bumped when the layout changes incompatibly.
const SnapshotVersion uint16 = 1

// Snapshot captures the whole simulation at a tick boundary.
type Snapshot struct {
	Version        uint16                 `json:"version"`
	Timestamp      int64                  `json:"timestamp"`
	Seed           int64                  `json:"seed"`
	Tick           uint64                 `json:"tick"`
	Clock          time.Time              `json:"clock"`
	Speed          float64                `json:"speed"`
	Condition      schema.MarketCondition `json:"condition"`
	ConditionTicks int                    `json:"conditionTicks"`
	Market         market.State           `json:"market"`
	Book           orderbook.State        `json:"book"`
	Ledger         ledger.State           `json:"ledger"`
	Bots           bot.State              `json:"bots"`
	News           news.State             `json:"news"`
	Volatility     volatility.State       `json:"volatility"`
	Imbalances     map[string]float64     `json:"imbalances"`
	Alerts         []schema.PriceAlert    `json:"alerts"`
	AlertSeq       uint64                 `json:"alertSeq"`
	Random         map[string][]byte      `json:"random,omitempty"`
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create snapshot dir %s", dir)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrap(exception.ErrSnapshotFormat, err.Error())
	}
	if snap.Version != SnapshotVersion {
		return Snapshot{}, errors.Wrapf(exception.ErrSnapshotFormat, "unsupported version %d", snap.Version)
	}
	return snap, nil
}

// CompareSnapshots checks that two snapshots agree on clock, prices, cash and positions.
func CompareSnapshots(expected, actual Snapshot) error {
	if expected.Tick != actual.Tick {
		return errors.Errorf("snapshot tick mismatch: expected=%d actual=%d", expected.Tick, actual.Tick)
	}
	if len(expected.Market.Assets) != len(actual.Market.Assets) {
		return errors.Errorf("snapshot asset count mismatch: expected=%d actual=%d", len(expected.Market.Assets), len(actual.Market.Assets))
	}
	prices := make(map[string]schema.Asset, len(expected.Market.Assets))
	for _, a := range expected.Market.Assets {
		prices[a.Symbol] = a
	}
	for _, a := range actual.Market.Assets {
		want, ok := prices[a.Symbol]
		if !ok {
			return errors.Errorf("snapshot missing symbol: %s", a.Symbol)
		}
		if !want.Price.Equal(a.Price) {
			return errors.Errorf("snapshot price mismatch: symbol=%s expected=%s actual=%s", a.Symbol, want.Price, a.Price)
		}
	}
	if !expected.Ledger.Cash.Equal(actual.Ledger.Cash) {
		return errors.Errorf("snapshot cash mismatch: expected=%s actual=%s", expected.Ledger.Cash, actual.Ledger.Cash)
	}
	if len(expected.Ledger.Positions) != len(actual.Ledger.Positions) {
		return errors.Errorf("snapshot position count mismatch: expected=%d actual=%d", len(expected.Ledger.Positions), len(actual.Ledger.Positions))
	}
	positions := make(map[string]schema.Position, len(expected.Ledger.Positions))
	for _, p := range expected.Ledger.Positions {
		positions[p.ID] = p
	}
	for _, p := range actual.Ledger.Positions {
		want, ok := positions[p.ID]
		if !ok {
			return errors.Errorf("snapshot missing position: %s", p.ID)
		}
		if !want.Size.Equal(p.Size) || !want.EntryPrice.Equal(p.EntryPrice) {
			return errors.Errorf("snapshot position mismatch: id=%s expected=%s@%s actual=%s@%s", p.ID, want.Size, want.EntryPrice, p.Size, p.EntryPrice)
		}
	}
	if len(expected.Book.Pending) != len(actual.Book.Pending) {
		return errors.Errorf("snapshot pending order mismatch: expected=%d actual=%d", len(expected.Book.Pending), len(actual.Book.Pending))
	}
	return nil
}
