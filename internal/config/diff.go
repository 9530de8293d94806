package config

import (
	"reflect"
	"strings"

	"taskcore/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// safe fields for logging them (never the mp token).
//
// Only logging is applied live; every other section takes effect on
// restart, which the caller reports via the returned restart list.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, restart []string, fields []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	sections := []struct {
		name string
		a, b any
	}{
		{"node", oldCfg.Node, newCfg.Node},
		{"tasks", oldCfg.Tasks, newCfg.Tasks},
		{"priority", oldCfg.Priority, newCfg.Priority},
		{"scheduler", oldCfg.Scheduler, newCfg.Scheduler},
		{"timer", oldCfg.Timer, newCfg.Timer},
		{"storage", oldCfg.Storage, newCfg.Storage},
		{"benchmark", oldCfg.Benchmark, newCfg.Benchmark},
		{"tracing", oldCfg.Tracing, newCfg.Tracing},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			changed = append(changed, s.name)
			restart = append(restart, s.name)
		}
	}

	om, nm := oldCfg.MP, newCfg.MP
	if om.Enabled != nm.Enabled || strings.TrimSpace(om.Listen) != strings.TrimSpace(nm.Listen) ||
		om.Token != nm.Token || !reflect.DeepEqual(om.Peers, nm.Peers) || om.RatePerSec != nm.RatePerSec ||
		om.Timeout != nm.Timeout || om.FlushSchedule != nm.FlushSchedule {
		changed = append(changed, "mp")
		restart = append(restart, "mp")
		fields = append(fields,
			logx.Bool("mp.enabled", nm.Enabled),
			logx.Int("mp.peers", len(nm.Peers)),
			logx.Bool("mp.token_set", nm.Token != ""),
		)
	}
	return changed, restart, fields
}
