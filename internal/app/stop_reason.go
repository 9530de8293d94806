package app

// StopReason is logged when the node shuts down.
type StopReason string

const (
	StopUnknown     StopReason = "unknown"
	StopSIGINT      StopReason = "sigint"
	StopSIGTERM     StopReason = "sigterm"
	StopFatalError  StopReason = "fatal_error"
	StopAppStop     StopReason = "app_stop"
	StopBenchFinish StopReason = "benchmark_finished"
)
