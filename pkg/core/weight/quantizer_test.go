package weight

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantize(t *testing.T) {
	q := NewQuantizer(0.5)
	re, im := q.Quantize(1.2 - 0.7i)
	assert.Equal(t, int64(2), re)
	assert.Equal(t, int64(-1), im)
}

func TestQuantizeWithoutTolerance(t *testing.T) {
	q := NewQuantizer(0)
	re, _ := q.Quantize(complex(math.Pi, 0))
	assert.Equal(t, int64(math.Float64bits(math.Pi)), re)
}
