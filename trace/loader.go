package trace

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"go.uber.org/zap"
)

// ErrUnsupportedDialect is returned when neither trace grammar matches
// any of the probed leading lines.
var ErrUnsupportedDialect = errors.New("trace: unsupported trace dialect")

// probeLines is how many non-comment lines dialect detection looks at
// before giving up.
const probeLines = 100

// defaultChunk is how many lines are processed between progress
// callbacks and cancellation checks.
const defaultChunk = 65536

// Options configures a parse pass. The zero value is usable.
type Options struct {
	// Logger receives parse-warning summaries. Nil means no logging.
	Logger *zap.Logger
	// Progress, when set, is called with a value in [0, 1] roughly
	// every ChunkLines lines. Only meaningful when the input size is
	// known (ParseFile with uncompressed input).
	Progress func(float64)
	// ChunkLines overrides the progress/cancellation granularity.
	ChunkLines int
	// Flavor forces a dialect instead of probing.
	Flavor Flavor
}

// ParseFile opens and parses a trace file. Gzip and snappy-framed
// compression are detected from the leading magic bytes and undone
// transparently.
func ParseFile(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	defer f.Close()

	var size int64
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}

	br := bufio.NewReaderSize(f, 1<<20)
	r, compressed, err := sniffCompression(br)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	if compressed {
		// Byte-accurate progress is lost behind the decompressor.
		size = 0
	}
	return parse(ctx, r, size, opts)
}

// Parse parses a trace from r. Compression is not sniffed here; use
// ParseFile for that.
func Parse(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	return parse(ctx, r, 0, opts)
}

var (
	gzipMagic   = []byte{0x1f, 0x8b}
	snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")
)

func sniffCompression(br *bufio.Reader) (io.Reader, bool, error) {
	head, err := br.Peek(len(snappyMagic))
	if err != nil && len(head) < 2 {
		// Too short to be compressed; let the line reader deal with it.
		return br, false, nil
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, false, err
		}
		return zr, true, nil
	case bytes.HasPrefix(head, snappyMagic):
		return snappy.NewReader(br), true, nil
	default:
		return br, false, nil
	}
}

// loader holds the per-pass state of one ingestion run.
type loader struct {
	res       *Result
	tok       *tokenizer
	flavor    Flavor
	sawEvent  bool
	bytesRead int64
}

func parse(ctx context.Context, r io.Reader, totalSize int64, opts Options) (*Result, error) {
	pool := NewStringPool()
	ld := &loader{
		res: &Result{
			Pool:      pool,
			StartTime: -1,
		},
		tok: newTokenizer(pool),
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	chunk := opts.ChunkLines
	if chunk <= 0 {
		chunk = defaultChunk
	}

	ld.flavor = opts.Flavor
	if ld.flavor == FlavorUnknown {
		buffered, flavor, err := probeFlavor(sc)
		if err != nil {
			return nil, err
		}
		ld.flavor = flavor
		for _, line := range buffered {
			ld.line(line)
		}
	}

	n := 0
	for sc.Scan() {
		ld.line(sc.Bytes())
		n++
		if n%chunk == 0 {
			select {
			case <-ctx.Done():
				// Cancellation leaves no partial state behind.
				return nil, ctx.Err()
			default:
			}
			if opts.Progress != nil && totalSize > 0 {
				p := float64(ld.bytesRead) / float64(totalSize)
				if p > 1 {
					p = 1
				}
				opts.Progress(p)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("trace: read: %w", err)
	}
	if opts.Progress != nil {
		opts.Progress(1)
	}

	ld.finish()
	if opts.Logger != nil {
		st := ld.res.Stats
		opts.Logger.Info("trace parsed",
			zap.String("flavor", ld.flavor.String()),
			zap.Int("lines", st.Lines),
			zap.Int("events", st.Events),
			zap.Int("unparsed", st.Unparsed),
			zap.Int("cpus", ld.res.NrCPUs),
		)
	}
	return ld.res, nil
}

// probeFlavor reads up to probeLines non-comment lines, scores both
// grammars against them and picks the dialect. All consumed lines are
// returned (copied) so the caller can replay them.
func probeFlavor(sc *bufio.Scanner) (buffered [][]byte, flavor Flavor, err error) {
	probe := newTokenizer(NewStringPool())
	var ftraceScore, perfScore, probed int
	sawIndent := false

	for probed < probeLines && sc.Scan() {
		raw := sc.Bytes()
		line := append([]byte(nil), raw...)
		buffered = append(buffered, line)

		trimmed := bytes.TrimRight(line, "\r\n")
		if len(trimmed) == 0 || trimmed[0] == '#' {
			continue
		}
		if trimmed[0] == ' ' || trimmed[0] == '\t' {
			// Indented continuation lines only exist in the
			// sampling-profiler dialect.
			sawIndent = true
			continue
		}
		probed++
		if _, _, ok := probe.tokenize(trimmed, FlavorFtrace); ok {
			ftraceScore++
		}
		if _, _, ok := probe.tokenize(trimmed, FlavorPerf); ok {
			perfScore++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, FlavorUnknown, fmt.Errorf("trace: read: %w", err)
	}

	switch {
	case perfScore == 0 && ftraceScore == 0:
		return nil, FlavorUnknown, ErrUnsupportedDialect
	case perfScore > ftraceScore || (perfScore == ftraceScore && sawIndent):
		return buffered, FlavorPerf, nil
	default:
		return buffered, FlavorFtrace, nil
	}
}

// line ingests one raw input line.
func (ld *loader) line(raw []byte) {
	ld.res.Stats.Lines++
	ld.bytesRead += int64(len(raw)) + 1
	line := bytes.TrimRight(raw, "\r")

	if len(line) == 0 || line[0] == '#' {
		return
	}
	if line[0] == ' ' || line[0] == '\t' {
		if ld.flavor == FlavorPerf && ld.sawEvent {
			ld.appendBacktrace(bytes.TrimLeft(line, " \t"))
		}
		// Indented lines in the tracer dialect are noise.
		return
	}

	ev, prec, ok := ld.tok.tokenize(line, ld.flavor)
	if !ok {
		ld.res.Stats.Unparsed++
		return
	}
	if !ld.sawEvent {
		ld.res.TimePrecision = prec
		ld.res.StartTime = ev.Ts
		ld.res.EndTime = ev.Ts
		ld.sawEvent = true
	}
	// Bounds are min/max rather than first/last so a mildly reordered
	// trace cannot put events outside [StartTime, EndTime].
	if ev.Ts < ld.res.StartTime {
		ld.res.StartTime = ev.Ts
	}
	if ev.Ts > ld.res.EndTime {
		ld.res.EndTime = ev.Ts
	}
	if int(ev.CPU)+1 > ld.res.NrCPUs {
		ld.res.NrCPUs = int(ev.CPU) + 1
	}
	ld.res.Events = append(ld.res.Events, ev)
	ld.res.Stats.Events++
}

func (ld *loader) appendBacktrace(line []byte) {
	ref := ld.res.Pool.Intern(line)
	ev := &ld.res.Events[len(ld.res.Events)-1]
	if ev.Backtrace < 0 {
		ev.Backtrace = int32(ld.res.Backtraces.Len())
		ld.res.Backtraces.Append(nil)
	}
	bt := ld.res.Backtraces.Ptr(int(ev.Backtrace))
	*bt = append(*bt, ref)
}

func (ld *loader) finish() {
	ld.res.Flavor = ld.flavor
	if !ld.sawEvent {
		ld.res.StartTime = 0
		ld.res.EndTime = 0
	}
}
