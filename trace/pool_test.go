package trace

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolInternDedup(t *testing.T) {
	p := NewStringPool()

	a := p.Intern([]byte("kworker/0:1"))
	b := p.Intern([]byte("kworker/0:1"))
	c := p.Intern([]byte("kworker/0:2"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "kworker/0:1", p.String(a))
	assert.Equal(t, "kworker/0:2", p.String(c))
	assert.Equal(t, 2, p.Len())
}

func TestPoolInternProperty(t *testing.T) {
	// intern(a) == intern(b) iff a == b, over inputs chosen to collide
	// in the (len, first-word) hash.
	p := NewStringPool()
	inputs := []string{
		"a", "b", "ab", "ba", "abcd", "abce", "abcdX", "abcdY",
		"", "sched_switch", "sched_waking", "x", "xy", "xyz",
	}
	refs := make(map[string]StringRef)
	for _, s := range inputs {
		refs[s] = p.Intern([]byte(s))
	}
	for _, s1 := range inputs {
		for _, s2 := range inputs {
			if s1 == s2 {
				assert.Equal(t, refs[s1], refs[s2])
			} else if s1 != "" && s2 != "" {
				assert.NotEqual(t, refs[s1], refs[s2], "%q vs %q", s1, s2)
			}
		}
	}
}

func TestPoolRefsStayValid(t *testing.T) {
	// Interned bytes must survive arbitrary pool growth.
	p := NewStringPool()
	first := p.Intern([]byte("stable"))
	for i := 0; i < 100_000; i++ {
		p.Intern([]byte(fmt.Sprintf("task-%d", i)))
	}
	require.Equal(t, "stable", p.String(first))
	again, ok := p.Lookup([]byte("stable"))
	require.True(t, ok)
	assert.Equal(t, first, again)
}

func TestPoolReset(t *testing.T) {
	p := NewStringPool()
	p.Intern([]byte("gone"))
	p.Reset()
	assert.Equal(t, 0, p.Len())
	_, ok := p.Lookup([]byte("gone"))
	assert.False(t, ok)
}

func TestPoolEmptyString(t *testing.T) {
	p := NewStringPool()
	assert.Equal(t, NullStringRef, p.Intern(nil))
	assert.Equal(t, NullStringRef, p.Intern([]byte{}))
	assert.Equal(t, "", p.String(NullStringRef))
}
