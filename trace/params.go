package trace

import (
	"bytes"

	"github.com/yorickbrunet/traceshark/container"
)

// Helpers for picking values out of event argument tokens. Trace
// arguments come in two shapes, "key=value" pairs and bare "[value]"
// brackets, with the occasional "name:pid" pair. All helpers operate
// on raw token bytes and report failure instead of guessing.

// afterPrefix returns the remainder of tok after pfix, or None.
func afterPrefix(tok []byte, pfix string) container.Option[[]byte] {
	if len(tok) < len(pfix) {
		return container.None[[]byte]()
	}
	for i := 0; i < len(pfix); i++ {
		if tok[i] != pfix[i] {
			return container.None[[]byte]()
		}
	}
	return container.Some(tok[len(pfix):])
}

func hasPrefix(tok []byte, pfix string) bool {
	return afterPrefix(tok, pfix).Set()
}

// intAfterPrefix parses the integer following pfix in tok.
func intAfterPrefix(tok []byte, pfix string) (int64, bool) {
	rest, ok := afterPrefix(tok, pfix).Get()
	if !ok {
		return 0, false
	}
	return atoiBytes(rest)
}

// uintAfterPrefix parses the unsigned integer following pfix in tok.
func uintAfterPrefix(tok []byte, pfix string) (uint64, bool) {
	rest, ok := afterPrefix(tok, pfix).Get()
	if !ok {
		return 0, false
	}
	return atouBytes(rest)
}

// intAfterChar parses the integer after the last occurrence of c in
// tok. Used for "name:pid" and "key=value" tokens where the name part
// may itself contain the separator.
func intAfterChar(tok []byte, c byte) (int64, bool) {
	i := bytes.LastIndexByte(tok, c)
	if i < 0 {
		return 0, false
	}
	return atoiBytes(tok[i+1:])
}

// beforeChar returns the part of tok before the last occurrence of c.
func beforeChar(tok []byte, c byte) container.Option[[]byte] {
	i := bytes.LastIndexByte(tok, c)
	if i < 0 {
		return container.None[[]byte]()
	}
	return container.Some(tok[:i])
}

// afterChar returns the part of tok after the first occurrence of c.
func afterChar(tok []byte, c byte) container.Option[[]byte] {
	i := bytes.IndexByte(tok, c)
	if i < 0 {
		return container.None[[]byte]()
	}
	return container.Some(tok[i+1:])
}

// isParamInsideBraces reports whether tok is exactly "[value]".
func isParamInsideBraces(tok []byte) bool {
	return len(tok) >= 2 && tok[0] == '[' && tok[len(tok)-1] == ']'
}

// isParamInsideBracesOrCant additionally accepts the mangled
// "[value]<CANT..." tokens produced when a new perf runs against an
// old libtraceevent.
func isParamInsideBracesOrCant(tok []byte) bool {
	if isParamInsideBraces(tok) {
		return true
	}
	if len(tok) < 2 || tok[0] != '[' {
		return false
	}
	i := bytes.IndexByte(tok, ']')
	return i > 0 && i+1 < len(tok) && tok[i+1] == '<'
}

// paramInsideBraces parses the unsigned integer inside "[value]".
func paramInsideBraces(tok []byte) (uint64, bool) {
	if !isParamInsideBraces(tok) {
		return 0, false
	}
	return atouBytes(tok[1 : len(tok)-1])
}

// nameBuf reassembles a task name that the whitespace tokenizer split
// apart. Names are bounded by TasknameMaxLen; any overflow fails the
// whole reconstruction, which the caller turns into a skipped line.
type nameBuf struct {
	buf [TasknameMaxLen]byte
	len int
	ok  bool
}

func newNameBuf() nameBuf {
	return nameBuf{ok: true}
}

func (nb *nameBuf) push(frag []byte) {
	if !nb.ok {
		return
	}
	if nb.len+len(frag) > TasknameMaxLen {
		nb.ok = false
		return
	}
	copy(nb.buf[nb.len:], frag)
	nb.len += len(frag)
}

// pushSep appends a single space between merged fragments, restoring
// the separator the tokenizer consumed.
func (nb *nameBuf) pushSep() {
	nb.push([]byte{' '})
}

func (nb *nameBuf) bytes() ([]byte, bool) {
	if !nb.ok {
		return nil, false
	}
	return nb.buf[:nb.len], true
}

// mergeArgs appends argv[begin..end] (inclusive) to nb, space
// separated, continuing an already-started name.
func mergeArgs(argv [][]byte, begin, end int, nb *nameBuf, started bool) {
	for i := begin; i <= end && i < len(argv); i++ {
		if started || i > begin {
			nb.pushSep()
		}
		nb.push(argv[i])
		started = true
	}
}
