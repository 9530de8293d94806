package app

import (
	"fmt"
	"strings"
	"time"

	"taskcore/internal/benchmark"
	"taskcore/internal/config"
	"taskcore/internal/mp"
	"taskcore/internal/objects"
	"taskcore/internal/priority"
	"taskcore/internal/sched"
	"taskcore/internal/storage"
	"taskcore/internal/task"
	"taskcore/internal/timer"
	"taskcore/internal/tracing"
	"taskcore/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTranslator(cfg *config.Config) (priority.Translator, error) {
	if cfg.Priority.Min == 0 && cfg.Priority.Max == 0 {
		return priority.Default(), nil
	}
	return priority.New(priority.API(cfg.Priority.Min), priority.API(cfg.Priority.Max))
}

func mapTaskConfig(cfg *config.Config) task.Config {
	return task.Config{
		MaxTasks:     cfg.Tasks.Max,
		DefaultStack: cfg.Tasks.DefaultStack,
		MinStack:     cfg.Tasks.MinStack,
	}
}

func mapSchedConfig(cfg *config.Config) sched.Config {
	return sched.Config{CPUs: cfg.Scheduler.CPUs, HistorySize: cfg.Scheduler.HistorySize}
}

func mapTimerConfig(cfg *config.Config) timer.Config {
	tc := timer.DefaultConfig()
	if cfg.Timer.LeastValid != nil {
		tc.LeastValid = *cfg.Timer.LeastValid
	}
	tc.Overhead = cfg.Timer.Overhead
	if cfg.Timer.TickNanos != 0 {
		tc.TickNanos = cfg.Timer.TickNanos
	}
	return tc
}

func mapBenchmarkConfig(cfg *config.Config) benchmark.Config {
	return benchmark.Config{Iterations: cfg.Benchmark.Iterations, Regression: cfg.Benchmark.Regression}
}

func mapTracingConfig(cfg *config.Config, version string) tracing.Config {
	return tracing.Config{
		Enabled: cfg.Tracing.Enabled,
		Output:  cfg.Tracing.Output,
		Service: "taskcore",
		Version: version,
		Node:    cfg.Node.ID,
	}
}

// mpSettings is the resolved mp section.
type mpSettings struct {
	proxy   mp.ProxyConfig
	peers   map[objects.Node]string
	token   string
	timeout time.Duration
	server  mp.ServerConfig
}

func mapMPConfig(cfg *config.Config) (mpSettings, error) {
	peers, err := cfg.PeerMap()
	if err != nil {
		return mpSettings{}, err
	}
	timeout, err := cfg.MP.TimeoutDuration()
	if err != nil {
		return mpSettings{}, err
	}
	node := objects.Node(cfg.Node.ID)
	ids := make([]objects.Node, 0, len(peers))
	for n := range peers {
		ids = append(ids, n)
	}
	return mpSettings{
		proxy:   mp.ProxyConfig{Node: node, Peers: ids, RatePerSec: cfg.MP.RatePerSec},
		peers:   peers,
		token:   cfg.MP.Token,
		timeout: timeout,
		server:  mp.ServerConfig{Listen: strings.TrimSpace(cfg.MP.Listen), Token: cfg.MP.Token},
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := sc.BusyTimeoutDuration()
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
