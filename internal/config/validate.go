package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"taskcore/internal/objects"
	"taskcore/internal/priority"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON field names so errors match the file.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks struct tags plus the rules tags cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if cfg.Priority.Min == 0 && cfg.Priority.Max != 0 {
		errs = append(errs, errors.New("priority.min: must be >= 1 when priority.max is set"))
	}
	tr := priority.Translator{Min: priority.API(cfg.Priority.Min), Max: priority.API(cfg.Priority.Max)}
	if tr.Max == 0 {
		tr = priority.Default()
	}
	for i, it := range cfg.Tasks.Init {
		if !tr.IsValid(priority.API(it.Priority)) {
			errs = append(errs, fmt.Errorf("tasks.init[%d] (%s): priority %d outside [%d, %d]", i, it.Name, it.Priority, tr.Min, tr.Max))
		}
	}
	if cfg.MP.Enabled {
		peers, err := cfg.PeerMap()
		if err != nil {
			errs = append(errs, err)
		}
		if _, self := peers[objects.Node(cfg.Node.ID)]; self {
			errs = append(errs, fmt.Errorf("mp.peers: lists this node (%d)", cfg.Node.ID))
		}
	}
	if _, err := cfg.MP.TimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if err := checkSchedule("mp.flush_schedule", cfg.MP.FlushSchedule); err != nil {
		errs = append(errs, err)
	}
	if err := checkSchedule("benchmark.schedule", cfg.Benchmark.Schedule); err != nil {
		errs = append(errs, err)
	}
	if st := cfg.Storage; st != nil {
		d := strings.ToLower(strings.TrimSpace(st.Driver))
		if d != "" && d != "none" && strings.TrimSpace(st.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path: required for driver %q", st.Driver))
		}
		if _, err := st.BusyTimeoutDuration(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PeerMap returns mp.peers keyed by node number.
func (c *Config) PeerMap() (map[objects.Node]string, error) {
	out := make(map[objects.Node]string, len(c.MP.Peers))
	for k, u := range c.MP.Peers {
		n, err := strconv.ParseUint(strings.TrimSpace(k), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("mp.peers: node %q: must be 0-255", k)
		}
		out[objects.Node(n)] = strings.TrimSpace(u)
	}
	return out, nil
}
