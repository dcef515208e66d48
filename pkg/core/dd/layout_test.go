package dd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLayout(t *testing.T) {
	l := DefaultLayout(3, 3, []IndexPair{{1, 0}})
	assert.Equal(t, Layout{{Left, 0}, {Left, 2}, {Right, 1}, {Right, 2}}, l)
	assert.Equal(t, []int{2, 5, 4, 6}, l.Shape([]int{2, 3, 5}, []int{3, 4, 6}))
}

func TestLayoutValidate(t *testing.T) {
	pairs := []IndexPair{{1, 0}}
	tests := []struct {
		name    string
		layout  Layout
		wantErr bool
	}{
		{"default", DefaultLayout(3, 2, pairs), false},
		{"interleaved", Layout{{Right, 1}, {Left, 0}, {Left, 2}}, false},
		{"too short", Layout{{Left, 0}, {Left, 2}}, true},
		{"contracted index", Layout{{Left, 0}, {Left, 1}, {Right, 1}}, true},
		{"reordered", Layout{{Left, 2}, {Left, 0}, {Right, 1}}, true},
		{"out of range", Layout{{Left, 0}, {Left, 2}, {Right, 5}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.layout.Validate(3, 2, pairs)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSuffixKeysDistinguishLayouts(t *testing.T) {
	a := suffixKeys([]int{0, -1, 1})
	b := suffixKeys([]int{0, -1, 2})
	assert.Len(t, a, 4)
	assert.Equal(t, "", a[3])
	assert.Equal(t, a[1][:1], b[1][:1])
	assert.NotEqual(t, a[0], b[0])
	assert.NotEqual(t, a[2], b[2])
}
