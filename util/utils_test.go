package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter(t *testing.T) {
	even := Filter([]int{1, 2, 3, 4}, func(i int) bool { return i%2 == 0 })
	assert.Equal(t, []int{2, 4}, even)

	none := Filter([]int{1, 3}, func(i int) bool { return i%2 == 0 })
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestReduce(t *testing.T) {
	sum := Reduce([]int{1, 2, 3}, func(i int, acc int) int { return acc + i }, 10)
	assert.Equal(t, 16, sum)

	found := Reduce([]string{"a", "b"}, func(s string, seen bool) bool { return seen || s == "b" }, false)
	assert.True(t, found)
}
