package config

// Config is the node configuration file (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s"); schedules are cron
// specs accepted by robfig/cron ("@every 30s", "*/5 * * * *").
type Config struct {
	Node      NodeConfig      `json:"node"`
	Tasks     TasksConfig     `json:"tasks"`
	Priority  PriorityConfig  `json:"priority"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Timer     TimerConfig     `json:"timer"`
	MP        MPConfig        `json:"mp"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Benchmark BenchmarkConfig `json:"benchmark"`
	Tracing   TracingConfig   `json:"tracing"`
}

type NodeConfig struct {
	// ID is the node number encoded in every object ID. Single-node
	// deployments leave it 0.
	ID   int    `json:"id" validate:"gte=0,lte=255"`
	Name string `json:"name,omitempty"`
}

// TasksConfig sizes the task table and lists the tasks started with the
// node.
//
// Defaults: max 64, default_stack 8KiB, min_stack 4KiB.
type TasksConfig struct {
	Max          int        `json:"max,omitempty" validate:"gte=0,lte=65535"`
	DefaultStack int        `json:"default_stack,omitempty" validate:"gte=0"`
	MinStack     int        `json:"min_stack,omitempty" validate:"gte=0"`
	Init         []InitTask `json:"init,omitempty" validate:"dive"`
}

// InitTask is created and started, in list order, when the node starts.
// Entry names a body registered with the app (or a built-in such as
// "idle").
//
// Example:
//
//	"init": [{ "name": "MAIN", "priority": 10, "entry": "idle" }]
type InitTask struct {
	Name      string `json:"name" validate:"required"`
	Priority  uint32 `json:"priority" validate:"required"`
	Entry     string `json:"entry" validate:"required"`
	Argument  string `json:"argument,omitempty"`
	StackSize int    `json:"stack_size,omitempty" validate:"gte=0"`
	Global    bool   `json:"global,omitempty"`
}

// PriorityConfig is the API priority range. Omitted means [1, 255].
type PriorityConfig struct {
	Min uint32 `json:"min,omitempty"`
	Max uint32 `json:"max,omitempty" validate:"omitempty,gtefield=Min"`
}

type SchedulerConfig struct {
	CPUs        int `json:"cpus,omitempty" validate:"gte=0,lte=1024"`
	HistorySize int `json:"history_size,omitempty" validate:"gte=0"`
}

// TimerConfig tunes the benchmark timer. LeastValid is a pointer because 0
// is a meaningful value and omitted means the board default (1).
type TimerConfig struct {
	LeastValid *uint64 `json:"least_valid,omitempty"`
	Overhead   uint64  `json:"overhead,omitempty"`
	TickNanos  uint64  `json:"tick_nanos,omitempty"`
}

// MPConfig enables the multiprocessing proxy.
//
// Example:
//
//	"mp": {
//	  "enabled": true,
//	  "listen": "127.0.0.1:7401",
//	  "peers": { "2": "http://10.0.0.2:7401" },
//	  "flush_schedule": "@every 15s"
//	}
type MPConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen,omitempty" validate:"required_if=Enabled true"`
	Token   string `json:"token,omitempty"` // bearer token shared by all nodes (do not log)
	// Peers maps node numbers to base URLs.
	Peers         map[string]string `json:"peers,omitempty" validate:"dive,keys,numeric,endkeys,url"`
	RatePerSec    int               `json:"rate_per_sec,omitempty" validate:"gte=0"`
	Timeout       string            `json:"timeout,omitempty"`
	FlushSchedule string            `json:"flush_schedule,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskcore.sqlite" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// BenchmarkConfig controls the directive timing suite.
type BenchmarkConfig struct {
	// Schedule runs the suite periodically in daemon mode; empty disables.
	Schedule   string `json:"schedule,omitempty"`
	Iterations int    `json:"iterations,omitempty" validate:"gte=0,lte=65535"`
	// Regression flags results slower than the stored baseline by more
	// than this factor (e.g. 1.5). 0 disables the check.
	Regression float64 `json:"regression,omitempty" validate:"gte=0"`
}

type TracingConfig struct {
	Enabled bool `json:"enabled"`
	// Output is a file path; empty writes spans to stdout.
	Output string `json:"output,omitempty"`
}
