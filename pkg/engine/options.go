package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/klauspost/cpuid/v2"
	"gopkg.in/yaml.v3"

	"github.com/sanonone/kektordd/pkg/core/dd"
)

// Duration is a wrapper around time.Duration that accepts strings such as
// "250ms" in JSON and YAML, as well as plain nanosecond numbers.
type Duration time.Duration

// UnmarshalJSON implements custom decoding logic.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON serializes the duration back to a readable string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalYAML accepts "250ms" style strings and integer nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration at line %d", node.Line)
	}
	tmp, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(tmp)
	return nil
}

// MarshalYAML serializes the duration as a readable string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Options configures an Engine.
type Options struct {
	// Epsilon is the tolerance of zero tests and of the quantized keys of the
	// unique table and the caches. Default: 1e-10.
	Epsilon float64 `yaml:"epsilon" json:"epsilon" validate:"gte=0,lt=1"`

	// Threads bounds the goroutines a single contraction may use.
	// Default: number of logical cores.
	Threads int `yaml:"threads" json:"threads" validate:"gte=0,lte=4096"`

	// GCPollPeriod is the sampling interval of the memory monitor. Default: 250ms.
	GCPollPeriod Duration `yaml:"gc_poll_period" json:"gc_poll_period" validate:"gte=0"`

	// MemoryThreshold is the process virtual memory size, in bytes, above
	// which caches are dropped during a contraction. 0 disables the monitor.
	// Default: 90% of the address-space limit, if any.
	MemoryThreshold uint64 `yaml:"memory_threshold" json:"memory_threshold"`

	// TableShards is the number of unique-table shards. Default: 32.
	TableShards int `yaml:"table_shards" json:"table_shards" validate:"gte=0,lte=65536"`

	// CollectInterval runs Collect periodically in the background. 0 disables it.
	CollectInterval Duration `yaml:"collect_interval" json:"collect_interval" validate:"gte=0"`

	// SnapshotPrecision is the weight precision used by Save.
	SnapshotPrecision string `yaml:"snapshot_precision" json:"snapshot_precision" validate:"omitempty,oneof=float64 float32 float16"`

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger `yaml:"-" json:"-"`
}

var optionsValidate = validator.New()

// DefaultOptions returns the default configuration.
//
// Defaults:
//   - Epsilon: 1e-10
//   - Threads: logical CPU count
//   - GCPollPeriod: 250ms
//   - MemoryThreshold: 90% of RLIMIT_AS, or disabled
//   - TableShards: 32
//   - SnapshotPrecision: float64
func DefaultOptions() Options {
	return Options{
		Epsilon:           dd.DefaultEpsilon,
		Threads:           defaultThreads(),
		GCPollPeriod:      Duration(250 * time.Millisecond),
		MemoryThreshold:   dd.DefaultMemoryThreshold(),
		TableShards:       dd.DefaultShards,
		SnapshotPrecision: "float64",
	}
}

func defaultThreads() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Validate checks the option values.
func (o Options) Validate() error {
	if err := optionsValidate.Struct(o); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// withDefaults replaces zero values by their defaults.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Epsilon == 0 {
		o.Epsilon = def.Epsilon
	}
	if o.Threads == 0 {
		o.Threads = def.Threads
	}
	if o.GCPollPeriod == 0 {
		o.GCPollPeriod = def.GCPollPeriod
	}
	if o.TableShards == 0 {
		o.TableShards = def.TableShards
	}
	if o.SnapshotPrecision == "" {
		o.SnapshotPrecision = def.SnapshotPrecision
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// LoadOptions reads options from a YAML file on top of DefaultOptions.
// Environment variables in the file are expanded. Unknown keys are rejected.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	decoder.KnownFields(true)
	if err := decoder.Decode(&opts); err != nil {
		return opts, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}
