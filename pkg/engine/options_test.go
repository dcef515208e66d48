package engine

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kektordd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOptions(t *testing.T) {
	t.Setenv("KEKTORDD_THREADS", "6")
	path := writeConfig(t, `
epsilon: 1e-9
threads: ${KEKTORDD_THREADS}
gc_poll_period: 100ms
memory_threshold: 1073741824
table_shards: 64
collect_interval: 2s
snapshot_precision: float32
`)
	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 1e-9, opts.Epsilon)
	assert.Equal(t, 6, opts.Threads)
	assert.Equal(t, Duration(100*time.Millisecond), opts.GCPollPeriod)
	assert.Equal(t, uint64(1<<30), opts.MemoryThreshold)
	assert.Equal(t, 64, opts.TableShards)
	assert.Equal(t, Duration(2*time.Second), opts.CollectInterval)
	assert.Equal(t, "float32", opts.SnapshotPrecision)
}

func TestLoadOptionsKeepsDefaults(t *testing.T) {
	opts, err := LoadOptions(writeConfig(t, "threads: 2\n"))
	require.NoError(t, err)
	def := DefaultOptions()
	assert.Equal(t, 2, opts.Threads)
	assert.Equal(t, def.Epsilon, opts.Epsilon)
	assert.Equal(t, def.GCPollPeriod, opts.GCPollPeriod)
	assert.Equal(t, def.TableShards, opts.TableShards)
}

func TestLoadOptionsErrors(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "thread: 2\n",
		"negative epsilon": "epsilon: -1\n",
		"bad precision":    "snapshot_precision: float8\n",
		"bad duration":     "gc_poll_period: soon\n",
		"too many threads": "threads: 100000\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadOptions(writeConfig(t, content))
			require.Error(t, err)
		})
	}

	_, err := LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadOptionsEmptyPath(t *testing.T) {
	opts, err := LoadOptions("")
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions().Threads, opts.Threads)
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Positive(t, opts.Threads)
	assert.NoError(t, opts.Validate())
}

func TestDurationJSON(t *testing.T) {
	var v struct {
		D Duration `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d":"1.5s"}`), &v))
	assert.Equal(t, Duration(1500*time.Millisecond), v.D)

	require.NoError(t, json.Unmarshal([]byte(`{"d":1000}`), &v))
	assert.Equal(t, Duration(time.Microsecond), v.D)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"1µs"}`, string(out))

	require.Error(t, json.Unmarshal([]byte(`{"d":true}`), &v))
}

func TestDurationYAML(t *testing.T) {
	var v struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 250ms\n"), &v))
	assert.Equal(t, Duration(250*time.Millisecond), v.D)

	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "d: 250ms\n", string(out))
}

func TestOpenRejectsInvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Epsilon = 2
	_, err := Open(opts)
	require.Error(t, err)
}

func TestOpenFillsZeroOptions(t *testing.T) {
	e, err := Open(Options{})
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, DefaultOptions().Epsilon, e.Options().Epsilon)
	assert.NotEmpty(t, e.ID())
	assert.NotNil(t, e.Options().Logger)
}

func TestBackgroundCollect(t *testing.T) {
	opts := DefaultOptions()
	opts.MemoryThreshold = 0
	opts.CollectInterval = Duration(10 * time.Millisecond)
	e, err := Open(opts)
	require.NoError(t, err)
	defer e.Close()

	d, err := e.FromArray(randomArray(rand.New(rand.NewSource(12)), 3, 3))
	require.NoError(t, err)
	d.Release()

	assert.Eventually(t, func() bool { return e.Stats().Scalar.Nodes == 0 }, 2*time.Second, 10*time.Millisecond)
}
