package trace

import (
	"bytes"

	"github.com/yorickbrunet/traceshark/mem"
)

// StringRef is a stable handle for an interned byte string. Two refs
// are equal exactly when the interned bytes are equal, so task-name
// comparisons collapse to an integer compare.
type StringRef uint32

// NullStringRef is returned for interning failures and for the empty
// string.
const NullStringRef StringRef = 0

// StringPool deduplicates the byte strings a trace mentions over and
// over: task names, argument keys, event names. Storage is a bump
// arena, so memory grows with the number of distinct strings, not with
// the number of event lines. Interned bytes stay valid until Reset.
//
// The index hashes on the length combined with the first four bytes of
// the string. Task names and argument keys almost always differ within
// their first word, so this cheap hash spreads well.
type StringPool struct {
	arena   mem.PageArena
	strings [][]byte // indexed by StringRef
	index   map[poolKey][]StringRef
}

type poolKey struct {
	len  int
	word uint32
}

func NewStringPool() *StringPool {
	p := &StringPool{
		index: make(map[poolKey][]StringRef),
		// Ref 0 is reserved for the empty/null string.
		strings: [][]byte{nil},
	}
	return p
}

// firstWord packs up to the first four bytes of s into one word, the
// way StrHash32 does in ftrace-era tooling.
func firstWord(s []byte) uint32 {
	var w uint32
	switch {
	case len(s) >= 4:
		w = uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24
	case len(s) == 3:
		w = uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16
	case len(s) == 2:
		w = uint32(s[0]) | uint32(s[1])<<8
	case len(s) == 1:
		w = uint32(s[0])
	}
	return w
}

// Intern returns the ref of b, copying it into the pool if this is the
// first time the byte sequence is seen.
func (p *StringPool) Intern(b []byte) StringRef {
	if len(b) == 0 {
		return NullStringRef
	}
	key := poolKey{len: len(b), word: firstWord(b)}
	for _, ref := range p.index[key] {
		if bytes.Equal(p.strings[ref], b) {
			return ref
		}
	}
	stored := p.arena.Alloc(b)
	ref := StringRef(len(p.strings))
	p.strings = append(p.strings, stored)
	p.index[key] = append(p.index[key], ref)
	return ref
}

// Lookup returns the ref of b if it is already interned, without
// interning it.
func (p *StringPool) Lookup(b []byte) (StringRef, bool) {
	if len(b) == 0 {
		return NullStringRef, false
	}
	key := poolKey{len: len(b), word: firstWord(b)}
	for _, ref := range p.index[key] {
		if bytes.Equal(p.strings[ref], b) {
			return ref, true
		}
	}
	return NullStringRef, false
}

// Bytes resolves a ref. The returned slice aliases pool storage and
// must not be modified.
func (p *StringPool) Bytes(ref StringRef) []byte {
	return p.strings[ref]
}

// String resolves a ref to a Go string, copying.
func (p *StringPool) String(ref StringRef) string {
	return string(p.strings[ref])
}

// Len returns the number of distinct interned strings.
func (p *StringPool) Len() int {
	return len(p.strings) - 1
}

// Size returns the payload bytes held by the pool's arena.
func (p *StringPool) Size() int64 {
	return p.arena.Size()
}

// Reset drops every interned string. Outstanding refs become invalid.
func (p *StringPool) Reset() {
	p.arena.Reset()
	p.strings = p.strings[:1]
	p.index = make(map[poolKey][]StringRef)
}
