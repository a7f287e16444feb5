package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := NewSet(1, 2, 3)
	assert.True(t, s.Has(2))
	assert.False(t, s.Has(4))
	s.Add(4)
	assert.True(t, s.Has(4))
	s.Delete(2)
	assert.False(t, s.Has(2))
	assert.Len(t, s, 3)
}

func TestOption(t *testing.T) {
	o := Some(42)
	v, ok := o.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.True(t, o.Set())
	assert.Equal(t, 42, o.GetOr(7))

	n := None[int]()
	_, ok = n.Get()
	assert.False(t, ok)
	assert.Equal(t, 7, n.GetOr(7))
}
