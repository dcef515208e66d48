package dd

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/procfs"

	"github.com/sanonone/kektordd/pkg/metrics"
)

// Monitor polls the process memory while a contraction runs and fires once
// when it crosses Threshold.
type Monitor struct {
	Period    time.Duration
	Threshold uint64
	Logger    *slog.Logger
	Engine    string

	// Usage reports the current memory size. Defaults to ProcessMemory.
	Usage func() uint64

	fired atomic.Bool
	stop  chan struct{}
	wg    sync.WaitGroup
}

// Start begins polling in a background goroutine. onPressure is called at
// most once, from that goroutine or from Stop.
func (m *Monitor) Start(onPressure func()) {
	if m.Usage == nil {
		m.Usage = ProcessMemory
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.Period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !m.fired.Load() {
					m.check(onPressure)
				}
			case <-m.stop:
				// Last sample, so short operations are observed too
				if !m.fired.Load() {
					m.check(onPressure)
				}
				return
			}
		}
	}()
}

func (m *Monitor) check(onPressure func()) {
	u := m.Usage()
	if u <= m.Threshold {
		return
	}
	m.fired.Store(true)
	metrics.MemoryPressureTotal.WithLabelValues(m.Engine).Inc()
	m.Logger.Warn("memory threshold exceeded, dropping caches",
		"usage", u, "threshold", m.Threshold)
	onPressure()
}

// Stop ends polling and reports whether the threshold was crossed.
func (m *Monitor) Stop() bool {
	close(m.stop)
	m.wg.Wait()
	return m.fired.Load()
}

// Over reports whether the process is currently above the threshold.
func (m *Monitor) Over() bool {
	return m.Usage() > m.Threshold
}

// ProcessMemory returns the virtual memory size of the current process.
// Where procfs is unavailable it falls back to the memory obtained by the
// Go runtime from the OS.
func ProcessMemory() uint64 {
	if p, err := procfs.Self(); err == nil {
		if st, err := p.Stat(); err == nil {
			return uint64(st.VirtualMemory())
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys
}

// CheckMemory returns ErrOutOfMemory if the memory threshold of e is set
// and the process is above it.
func (e *Engine[W]) CheckMemory() error {
	if e.cfg.MemoryThreshold == 0 {
		return nil
	}
	m := Monitor{Threshold: e.cfg.MemoryThreshold, Usage: ProcessMemory}
	if m.Over() {
		e.logger.Error("memory still above threshold after sweep", "threshold", m.Threshold)
		return ErrOutOfMemory
	}
	return nil
}
