package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultMPTimeout   = 5 * time.Second
	DefaultBusyTimeout = time.Second
)

// ScheduleParser accepts 5-field and 6-field (with seconds) cron specs and
// descriptors such as "@every 30s". The job runner parses with the same
// rules, so a spec that validates here always registers.
var ScheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// TimeoutDuration returns mp.timeout, or DefaultMPTimeout when unset or zero.
func (c MPConfig) TimeoutDuration() (time.Duration, error) {
	return settingDuration("mp.timeout", c.Timeout, DefaultMPTimeout)
}

// BusyTimeoutDuration returns storage.busy_timeout, or DefaultBusyTimeout
// when unset or zero.
func (c StorageConfig) BusyTimeoutDuration() (time.Duration, error) {
	return settingDuration("storage.busy_timeout", c.BusyTimeout, DefaultBusyTimeout)
}

func settingDuration(key, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", key, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", key, s)
	case d == 0:
		return def, nil
	}
	return d, nil
}

func checkSchedule(key, spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	if _, err := ScheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("%s: invalid schedule %q: %w", key, spec, err)
	}
	return nil
}
