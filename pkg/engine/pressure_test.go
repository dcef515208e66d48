package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektordd/pkg/core/dd"
	"github.com/sanonone/kektordd/pkg/core/dense"
	"github.com/sanonone/kektordd/pkg/core/weight"
)

// openPressured returns an engine whose memory threshold is always exceeded.
func openPressured(t testing.TB) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.Threads = 2
	opts.MemoryThreshold = 1
	opts.GCPollPeriod = Duration(time.Hour)
	e, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestContractUnderMemoryPressure(t *testing.T) {
	e := openPressured(t)
	rng := rand.New(rand.NewSource(60))
	xa, xb := randomArray(rng, 2, 3), randomArray(rng, 3, 2)
	a, err := e.FromArray(xa)
	require.NoError(t, err)
	b, err := e.FromArray(xb)
	require.NoError(t, err)

	r, err := e.ContractScalar(a, b, []dd.IndexPair{{First: 1, Second: 0}}, nil)
	require.ErrorIs(t, err, dd.ErrOutOfMemory)
	assert.Nil(t, r)

	// The collection kept the operands and dropped the unretained result
	requireClose(t, xa, toArray(t, a))
	requireClose(t, xb, toArray(t, b))
	assert.Equal(t, 2, e.Stats().Scalar.Retained)
}

func TestContractUnderMemoryPressureWithConcurrentBuilds(t *testing.T) {
	e := openPressured(t)
	rng := rand.New(rand.NewSource(61))
	a, err := e.FromArray(randomArray(rng, 2, 3))
	require.NoError(t, err)
	b, err := e.FromArray(randomArray(rng, 3, 2))
	require.NoError(t, err)

	inputs := make([]*dense.Array, 50)
	for i := range inputs {
		inputs[i] = randomArray(rng, 2, 2, 2)
	}

	stop := make(chan struct{})
	errs := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			r, err := e.ContractScalar(a, b, []dd.IndexPair{{First: 1, Second: 0}}, nil)
			if err == nil {
				r.Release()
				continue
			}
			if !errors.Is(err, dd.ErrOutOfMemory) {
				errs <- err
				return
			}
		}
	}()

	for i, arr := range inputs {
		d, err := e.FromArray(arr)
		require.NoError(t, err)
		got, err := d.ToArray()
		require.NoError(t, err)
		require.Truef(t, dense.AllClose(arr, got, tol), "iteration %d", i)
		d.Release()
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestContractorCacheIsBounded(t *testing.T) {
	e := openTest(t)
	rng := rand.New(rand.NewSource(62))
	for k := 1; k <= maxContractors+1; k++ {
		d, err := e.FromBatchArray(randomArray(rng, 2, k), 1)
		require.NoError(t, err, fmt.Sprint(k))
		r, err := e.ContractBatch(d, d, []dd.IndexPair{{First: 0, Second: 0}}, nil, weight.Outer)
		require.NoError(t, err)
		r.Release()
		d.Release()
		assert.LessOrEqual(t, e.contractorCount(), maxContractors)
	}
	assert.Equal(t, 1, e.contractorCount())
	assert.Len(t, e.Stats().Batch.Caches, 5)

	_, err := e.Collect()
	require.NoError(t, err)
	assert.Zero(t, e.contractorCount())
	assert.Len(t, e.Stats().Batch.Caches, 4)
}
