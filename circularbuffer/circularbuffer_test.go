package circularbuffer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"slotleds/circularbuffer"
)

func TestCircularBuffer(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		pushes []int
		want   []int
	}{
		{name: "empty", size: 3, pushes: nil, want: []int{}},
		{name: "partial", size: 3, pushes: []int{1, 2}, want: []int{1, 2}},
		{name: "exactly full", size: 3, pushes: []int{1, 2, 3}, want: []int{1, 2, 3}},
		{name: "wrapped", size: 3, pushes: []int{1, 2, 3, 4, 5}, want: []int{3, 4, 5}},
		{name: "size clamped", size: 0, pushes: []int{1, 2}, want: []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := circularbuffer.New[int](tt.size)
			for _, v := range tt.pushes {
				cb.Push(v)
			}

			assert.Equal(t, tt.want, cb.Snapshot())
			assert.Equal(t, len(tt.want), cb.Len())

			var each []int
			cb.Each(func(v int) { each = append(each, v) })
			assert.Equal(t, len(tt.want), len(each))
		})
	}
}
