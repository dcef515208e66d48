// Package engine provides the high-level, embedded interface of kektordd.
//
// It owns one decision-diagram engine per weight representation (scalar and
// batched), validates index lists before they reach the core algorithms,
// keeps every live Diagram retained so background collection never frees a
// tensor still in use, and persists diagrams to snapshot files.
//
// Basic usage:
//
//	eng, err := engine.Open(engine.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	a, _ := eng.FromArray(arr)
//	defer a.Release()
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"

	"github.com/sanonone/kektordd/pkg/core/dd"
	"github.com/sanonone/kektordd/pkg/core/dense"
	"github.com/sanonone/kektordd/pkg/core/weight"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("engine: closed")
	// ErrInvalidPairs is returned when an index-pair list is out of range,
	// repeats an index, or pairs indices of different dimensions.
	ErrInvalidPairs = errors.New("engine: invalid index pairs")
	// ErrInvalidLayout is returned when a contraction layout does not place
	// exactly the surviving indices in operand order.
	ErrInvalidLayout = errors.New("engine: invalid layout")
	// ErrShapeMismatch is returned when operand shapes are not compatible.
	ErrShapeMismatch = errors.New("engine: shape mismatch")
	// ErrForeignDiagram is returned when diagrams of different engines are combined.
	ErrForeignDiagram = errors.New("engine: diagram belongs to another engine")
	// ErrReleased is returned when a released diagram is used.
	ErrReleased = errors.New("engine: diagram released")
)

// Engine is the main entry point of kektordd.
type Engine struct {
	id     string
	opts   Options
	logger *slog.Logger

	scalar *dd.Engine[complex128]
	batch  *dd.Engine[weight.Batch]

	// opMu is held shared from the creation of a diagram until it is
	// retained, and exclusively by Collect.
	opMu sync.RWMutex

	cmu         sync.Mutex
	contractors map[contractorKey]any

	isClosed  atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open creates an engine. Zero option values are replaced by their defaults.
func Open(opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if _, err := parsePrecision(opts.SnapshotPrecision); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	e := &Engine{
		id:          id,
		opts:        opts,
		logger:      opts.Logger.With("component", "engine", "id", id),
		contractors: make(map[contractorKey]any),
		closed:      make(chan struct{}),
	}
	cfg := func(kind string) dd.Config {
		return dd.Config{
			Epsilon:         opts.Epsilon,
			Shards:          opts.TableShards,
			GCPollPeriod:    time.Duration(opts.GCPollPeriod),
			MemoryThreshold: opts.MemoryThreshold,
			Name:            id + "/" + kind,
			Logger:          opts.Logger,
		}
	}
	e.scalar = dd.New[complex128](weight.Scalar{}, cfg(kindScalar))
	e.batch = dd.New[weight.Batch](weight.Batched{}, cfg(kindBatch))

	e.logger.Info("engine opened",
		"cpu", cpuid.CPU.BrandName,
		"logical_cores", cpuid.CPU.LogicalCores,
		"threads", opts.Threads,
		"epsilon", opts.Epsilon,
		"memory_threshold", opts.MemoryThreshold)

	if opts.CollectInterval > 0 {
		e.wg.Add(1)
		go e.backgroundTasks(time.Duration(opts.CollectInterval))
	}
	return e, nil
}

// ID returns the instance id used in logs and metric labels.
func (e *Engine) ID() string { return e.id }

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// Close stops background collection. Diagrams of a closed engine can still
// be released but no new operation is accepted.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.isClosed.Store(true)
		close(e.closed)
		e.wg.Wait()
		e.logger.Info("engine closed")
	})
	return nil
}

func (e *Engine) backgroundTasks(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.collect()
		}
	}
}

// CollectStats reports a collection over both engines.
type CollectStats struct {
	Scalar dd.SweepStats
	Batch  dd.SweepStats
}

// Collect frees every node no live Diagram refers to. It waits for running
// operations and blocks new ones until it is done.
func (e *Engine) Collect() (CollectStats, error) {
	if e.isClosed.Load() {
		return CollectStats{}, ErrClosed
	}
	return e.collect(), nil
}

func (e *Engine) collect() CollectStats {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	// Sweeping clears the contraction memo tables anyway
	e.dropContractors()
	return CollectStats{Scalar: e.scalar.Collect(), Batch: e.batch.Collect()}
}

// ClearCaches drops every memo table, including the contraction caches.
func (e *Engine) ClearCaches() {
	e.scalar.ClearCaches()
	e.batch.ClearCaches()
}

// Stats describes both engines.
type Stats struct {
	ID     string
	Scalar dd.Stats
	Batch  dd.Stats
}

// Stats returns node counts and cache sizes.
func (e *Engine) Stats() Stats {
	return Stats{ID: e.id, Scalar: e.scalar.Stats(), Batch: e.batch.Stats()}
}

// begin starts an operation producing a diagram. The returned function must
// be called once the result is retained.
func (e *Engine) begin() (func(), error) {
	if e.isClosed.Load() {
		return nil, ErrClosed
	}
	e.opMu.RLock()
	return e.opMu.RUnlock, nil
}

// FromArray builds a scalar diagram with one index per dimension of arr.
func (e *Engine) FromArray(arr *dense.Array) (*ScalarDiagram, error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	if err := arr.Shape().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	x := e.scalar.FromArray(arr, 0)
	return newDiagram(e, e.scalar, x, arr.Shape()), nil
}

// FromBatchArray builds a batched diagram. The trailing parallelRank
// dimensions of arr form the parallel shape shared by all weights.
func (e *Engine) FromBatchArray(arr *dense.Array, parallelRank int) (*BatchDiagram, error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	if err := arr.Shape().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if parallelRank < 0 || parallelRank > arr.Rank() {
		return nil, fmt.Errorf("%w: parallel rank %d for array of rank %d", ErrShapeMismatch, parallelRank, arr.Rank())
	}
	x := e.batch.FromArray(arr, parallelRank)
	return newDiagram(e, e.batch, x, arr.Shape()[:arr.Rank()-parallelRank]), nil
}
