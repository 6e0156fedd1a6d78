package clientfsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackoffLinearScheduleThenExhaustion(t *testing.T) {
	b := NewBackoff(1, 3)

	d1, ok1 := b.Next()
	assert.True(t, ok1)
	assert.Equal(t, 1, d1)

	d2, ok2 := b.Next()
	assert.True(t, ok2)
	assert.Equal(t, 3, d2)

	d3, ok3 := b.Next()
	assert.True(t, ok3)
	assert.Equal(t, 5, d3)

	_, ok4 := b.Next()
	assert.False(t, ok4)
}

func TestBackoffZeroLimitExhaustsImmediately(t *testing.T) {
	b := NewBackoff(2, 0)
	_, ok := b.Next()
	assert.False(t, ok)
}
