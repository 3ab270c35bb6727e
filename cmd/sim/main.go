package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"tradesim/internal/api"
	"tradesim/internal/bus"
	"tradesim/internal/core"
	"tradesim/internal/journal"
	"tradesim/internal/obs"
	"tradesim/internal/ops"
	"tradesim/internal/push"
	"tradesim/internal/state"
)

type runtimeConfig struct {
	v atomic.Value
}

func newRuntimeConfig(loaded ops.Loaded) *runtimeConfig {
	var rc runtimeConfig
	rc.v.Store(loaded)
	return &rc
}

func (r *runtimeConfig) Load() ops.Loaded {
	return r.v.Load().(ops.Loaded)
}

func (r *runtimeConfig) Update(loaded ops.Loaded) {
	r.v.Store(loaded)
}

func main() {
	_ = godotenv.Load()
	gin.SetMode(gin.ReleaseMode)

	configPath := flag.String("config", os.Getenv("TRADESIM_CONFIG"), "Path to JSON config (default: built-in)")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	snapshotPath := flag.String("snapshot", os.Getenv("TRADESIM_SNAPSHOT"), "Snapshot written on shutdown")
	restore := flag.Bool("restore", false, "Restore from -snapshot on start")
	journalDir := flag.String("journal-dir", "", "Record bus events into this directory")
	pyroscopeAddr := flag.String("pyroscope", os.Getenv("PYROSCOPE_ADDR"), "Pyroscope server address (empty=disable)")
	paused := flag.Bool("paused", false, "Start with the clock paused")
	flag.Parse()

	if *pyroscopeAddr != "" {
		profiler, err := startProfiler(*pyroscopeAddr)
		if err != nil {
			logs.Errorf("pyroscope start, err: %+v", err)
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	loaded, err := loadConfig(*configPath)
	if err != nil {
		logs.Errorf("config load, err: %+v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		logs.Info("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, loaded, options{
		configPath:   *configPath,
		configReload: *configReload,
		snapshotPath: *snapshotPath,
		restore:      *restore,
		journalDir:   *journalDir,
		paused:       *paused,
	}); err != nil {
		logs.Errorf("simulator stopped, err: %+v", err)
		os.Exit(1)
	}
}

type options struct {
	configPath   string
	configReload time.Duration
	snapshotPath string
	restore      bool
	journalDir   string
	paused       bool
}

func run(ctx context.Context, loaded ops.Loaded, opt options) error {
	runtime := newRuntimeConfig(loaded)
	queue := bus.NewQueue(4096)
	metrics := obs.NewMetrics()

	engine, err := core.NewEngine(loaded.Engine, loaded.Registry, core.WithBus(queue), core.WithMetrics(metrics))
	if err != nil {
		return errors.Wrap(err, "new engine")
	}
	if opt.restore {
		if err := restoreSnapshot(engine, opt.snapshotPath); err != nil {
			return err
		}
	}
	if opt.paused {
		engine.Pause()
	}

	gateway := push.NewGateway(push.Config{
		Capacity: loaded.Server.PushCapacity,
		Policy:   push.OverflowDropOldest,
	})

	var recorder *journal.Writer
	if opt.journalDir != "" {
		recorder, err = journal.NewWriter(journal.DefaultConfig(opt.journalDir))
		if err != nil {
			return errors.Wrap(err, "journal")
		}
		if err := recorder.Start(ctx); err != nil {
			return errors.Wrap(err, "start journal")
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Run(ctx, func(e bus.Event) {
			gateway.Broadcast(e)
			if recorder != nil {
				if err := recorder.Append(e); err != nil && !errors.Is(err, journal.ErrQueueFull) {
					logs.Errorf("journal append, err: %+v", err)
				}
			}
		})
	}()

	if opt.configPath != "" && opt.configReload > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watchConfig(ctx, opt.configPath, opt.configReload, func(next ops.Loaded) {
				prev := runtime.Load()
				runtime.Update(next)
				applyConfig(engine, prev, next)
			})
		}()
	}

	router, err := api.NewRouter(api.Config{
		Engine:    engine,
		Push:      gateway,
		RateLimit: loaded.Server.RateLimit,
		RateBurst: loaded.Server.RateBurst,
	})
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: loaded.Server.Addr, Handler: router}
	serveErr := make(chan error, 1)
	go func() {
		logs.Infof("http listening on %s", loaded.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		core.NewScheduler(engine).Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logs.Errorf("http shutdown, err: %+v", err)
	}
	gateway.Close()
	<-schedDone
	queue.Close()
	wg.Wait()

	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logs.Errorf("journal close, err: %+v", err)
		}
		logs.Infof("journal records=%d", recorder.Written())
	}
	if opt.snapshotPath != "" {
		if err := state.WriteSnapshot(opt.snapshotPath, engine.Export()); err != nil {
			return errors.Wrap(err, "write snapshot")
		}
		logs.Infof("snapshot written: %s", opt.snapshotPath)
	}

	s := metrics.Snapshot()
	logs.Infof("metrics: ticks=%d events=%v risk_reasons=%v faults=%v drops=%d push_drops=%d tick=%+v",
		s.Ticks, s.EventCounts, s.RiskReasonCounts, s.Faults, s.QueueDrops, gateway.Drops(), s.TickLatency)
	return runErr
}

// applyConfig pushes the reloadable parts of a new config into the engine.
func applyConfig(engine *core.Engine, prev, next ops.Loaded) {
	if next.Engine.Risk.Version != prev.Engine.Risk.Version {
		engine.UpdateRisk(next.Engine.Risk)
		logs.Infof("risk limits updated to version %d", next.Engine.Risk.Version)
	}
	if next.Engine.Speed != prev.Engine.Speed {
		if err := engine.SetSpeed(next.Engine.Speed); err != nil {
			logs.Errorf("apply speed, err: %+v", err)
		}
	}
}

func restoreSnapshot(engine *core.Engine, path string) error {
	if path == "" {
		return errors.New("restore requires -snapshot")
	}
	snap, err := state.ReadSnapshot(path)
	if err != nil {
		return errors.Wrap(err, "read snapshot")
	}
	if err := engine.Restore(snap); err != nil {
		return errors.Wrap(err, "restore snapshot")
	}
	logs.Infof("restored tick=%d seed=%d", snap.Tick, snap.Seed)
	return nil
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Default(), nil
	}
	return ops.Load(path)
}

func watchConfig(ctx context.Context, path string, interval time.Duration, update func(ops.Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Errorf("config stat, err: %+v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			loaded, err := ops.Load(path)
			if err != nil {
				logs.Errorf("config reload, err: %+v", err)
				continue
			}
			update(loaded)
			lastMod = info.ModTime()
			logs.Infof("config reloaded: %s", path)
		}
	}
}

func startProfiler(addr string) (*pyroscope.Profiler, error) {
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: "tradesim",
		ServerAddress:   addr,
		Logger:          profilerLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}

type profilerLogger struct{}

func (profilerLogger) Infof(format string, args ...any)  { logs.Infof("pyroscope: "+format, args...) }
func (profilerLogger) Debugf(string, ...any)             {}
func (profilerLogger) Errorf(format string, args ...any) { logs.Errorf("pyroscope: "+format, args...) }
