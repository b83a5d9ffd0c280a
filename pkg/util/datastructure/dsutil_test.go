package datastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceToSet(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]struct{}
	}{
		{name: "nil", args: nil, want: map[string]struct{}{}},
		{name: "one", args: []string{"db0"}, want: map[string]struct{}{"db0": {}}},
		{name: "two", args: []string{"db0", "db1"}, want: map[string]struct{}{"db0": {}, "db1": {}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := SliceToSet(tt.args)
			assert.Equal(t, tt.want, ret)
		})
	}
}

func TestDuplicates(t *testing.T) {
	assert.Nil(t, Duplicates([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, Duplicates([]string{"a", "a", "b", "a", "b"}))
	assert.Equal(t, []int{1}, Duplicates([]int{1, 2, 1}))
}
