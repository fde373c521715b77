package bitset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_BitsetSetIsSet(t *testing.T) {
	b := New(18)

	assert.False(t, b.IsSet(5))
	b.Set(5)
	assert.True(t, b.IsSet(5))
	assert.False(t, b.IsSet(4))
}

func Test_BitsetAcrossWordBoundary(t *testing.T) {
	b := New(262144)

	b.Set(0)
	b.Set(2000)
	b.Set(262143)

	assert.True(t, b.IsSet(0))
	assert.True(t, b.IsSet(2000))
	assert.True(t, b.IsSet(262143))
	assert.False(t, b.IsSet(1))
}

func Test_BitsetClear(t *testing.T) {
	b := New(128)
	b.Set(3)
	b.Set(100)

	b.Clear()

	assert.False(t, b.IsSet(3))
	assert.False(t, b.IsSet(100))
}

func Test_BitsetIsSetOutOfRangeIsFalse(t *testing.T) {
	b := New(10)
	assert.False(t, b.IsSet(1000))
}

func Test_BitsetSetPanicsOutOfRange(t *testing.T) {
	b := New(10)
	assert.Panics(t, func() { b.Set(1000) })
}
