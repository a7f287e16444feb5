package mem

const arenaPageSize = 512 * 1024

// PageArena is a bump allocator over fixed-size byte pages. Slices
// returned by Alloc stay valid for the arena's lifetime: pages are
// appended to, never grown, so handed-out subslices keep referring to
// live memory.
type PageArena struct {
	pages [][]byte
	used  int64
}

// Alloc copies b into the arena and returns the stable copy. Requests
// larger than a page get a page of their own.
func (a *PageArena) Alloc(b []byte) []byte {
	n := len(b)
	if n == 0 {
		return nil
	}
	if n > arenaPageSize {
		p := make([]byte, n)
		copy(p, b)
		a.pages = append(a.pages, p)
		a.used += int64(n)
		return p[:n:n]
	}
	last := len(a.pages) - 1
	if last < 0 || len(a.pages[last])+n > cap(a.pages[last]) {
		a.pages = append(a.pages, make([]byte, 0, arenaPageSize))
		last++
	}
	page := a.pages[last]
	off := len(page)
	page = append(page, b...)
	a.pages[last] = page
	a.used += int64(n)
	return page[off : off+n : off+n]
}

// Size returns the number of payload bytes stored in the arena.
func (a *PageArena) Size() int64 { return a.used }

// Reset drops every page. Previously returned slices become garbage.
func (a *PageArena) Reset() {
	a.pages = nil
	a.used = 0
}

const bucketSize = 64

// BucketSlice grows one fixed-size bucket at a time instead of
// doubling a single backing array. Elements never move once appended,
// so pointers from Ptr stay valid across growth, and memory overhead
// stays bounded when the final length is unknown up front. The event
// backtrace store is built on it: backtraces trickle in line by line
// while the store keeps growing.
type BucketSlice[T any] struct {
	n       int
	buckets [][]T
}

// Append adds v and returns a pointer to the stored element.
func (l *BucketSlice[T]) Append(v T) *T {
	a := l.n / bucketSize
	if a >= len(l.buckets) {
		l.buckets = append(l.buckets, make([]T, 0, bucketSize))
	}
	l.buckets[a] = append(l.buckets[a], v)
	l.n++
	return &l.buckets[a][len(l.buckets[a])-1]
}

// Ptr returns a pointer to element i, valid until Reset.
func (l *BucketSlice[T]) Ptr(i int) *T {
	return &l.buckets[i/bucketSize][i%bucketSize]
}

// Get returns element i by value.
func (l *BucketSlice[T]) Get(i int) T {
	return l.buckets[i/bucketSize][i%bucketSize]
}

// Len returns the number of appended elements.
func (l *BucketSlice[T]) Len() int {
	return l.n
}

// Reset empties the slice, keeping the buckets for reuse.
func (l *BucketSlice[T]) Reset() {
	for i := range l.buckets {
		l.buckets[i] = l.buckets[i][:0]
	}
	l.n = 0
}
