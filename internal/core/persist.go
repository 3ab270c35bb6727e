package core

import (
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/random"
	"tradesim/internal/schema"
	"tradesim/internal/state"
)

// streamStride separates the random streams of consecutive reseed ticks.
const streamStride = 7919

type randomStream interface {
	Random() *random.Source
}

// Export captures the whole simulation, including the position of every
// random stream. The running engine is not touched.
func (e *Engine) Export() state.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &e.st
	snap := state.Snapshot{
		Version:        state.SnapshotVersion,
		Timestamp:      time.Now().UTC().UnixNano(),
		Seed:           e.seed,
		Tick:           st.tick,
		Clock:          st.clock,
		Speed:          st.speed,
		Condition:      st.condition,
		ConditionTicks: st.cycle.Ticks(),
		Market:         st.assets.Export(),
		Book:           st.book.Export(),
		Ledger:         st.ledger.Export(),
		Bots:           st.bots.Export(),
		News:           st.news.Export(),
		Volatility:     st.vol.Export(),
		Imbalances:     st.depth.Imbalances(),
		Alerts:         append([]schema.PriceAlert(nil), st.alerts...),
		AlertSeq:       st.alertSeq,
		Random:         make(map[string][]byte),
	}
	for name, src := range e.streams() {
		data, err := src.MarshalBinary()
		if err != nil {
			logs.Errorf("export %s random stream, err: %+v", name, err)
			continue
		}
		snap.Random[name] = data
	}
	return snap
}

// Restore replaces the simulation with a snapshot taken by Export. Streams
// missing from the snapshot are reseeded from (seed, tick).
func (e *Engine) Restore(snap state.Snapshot) error {
	if snap.Version != state.SnapshotVersion {
		return errors.Errorf("snapshot version %d, want %d", snap.Version, state.SnapshotVersion)
	}
	for name, data := range snap.Random {
		if err := random.New(1).UnmarshalBinary(data); err != nil {
			return errors.Wrapf(err, "snapshot stream %s", name)
		}
	}
	if snap.Speed < MinSpeed || snap.Speed > MaxSpeed {
		snap.Speed = MinSpeed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := &e.st
	if err := st.assets.Restore(snap.Market); err != nil {
		return errors.Wrap(err, "restore market")
	}
	st.book.Restore(snap.Book)
	st.ledger.Restore(snap.Ledger)
	st.bots.Restore(snap.Bots)
	st.news.Restore(snap.News)
	st.vol.Restore(snap.Volatility)
	st.depth.RestoreImbalances(snap.Imbalances)
	st.cycle.SetTicks(snap.ConditionTicks)
	st.alerts = append([]schema.PriceAlert(nil), snap.Alerts...)
	st.alertSeq = snap.AlertSeq
	st.tick = snap.Tick
	st.clock = snap.Clock
	st.speed = snap.Speed
	st.condition = snap.Condition
	e.seed = snap.Seed
	e.reseed(snap.Seed, snap.Tick)
	for name, src := range e.streams() {
		if data, ok := snap.Random[name]; ok {
			// validated above
			_ = src.UnmarshalBinary(data)
		}
	}
	return nil
}

// Reseed restarts every random stream from seed at the current tick.
func (e *Engine) Reseed(seed int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seed = seed
	e.reseed(seed, e.st.tick)
}

func (e *Engine) reseed(seed int64, tick uint64) {
	base := seed + int64(tick)*streamStride
	e.st.model.Reseed(base + seedMarket)
	e.st.news.Reseed(base + seedNews)
	e.st.vol.Reseed(base + seedVolatility)
	e.st.depth.Reseed(base + seedDepth)
	e.st.cycle.Reseed(base + seedCondition)
}

func (e *Engine) streams() map[string]*random.Source {
	out := map[string]*random.Source{
		"news":       e.st.news.Random(),
		"volatility": e.st.vol.Random(),
		"depth":      e.st.depth.Random(),
		"condition":  e.st.cycle.Random(),
	}
	if m, ok := e.st.model.(randomStream); ok {
		if src := m.Random(); src != nil {
			out["market"] = src
		}
	}
	return out
}
