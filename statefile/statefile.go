// Package statefile persists per-trace user state: task color
// overrides, the last window geometry and the last filter parameters.
// The format is a plain key=value text file next to the trace (or in a
// dedicated directory), read when a trace is opened and written when
// it is closed. Anything unreadable falls back to defaults; state is
// a convenience, never a requirement.
package statefile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Suffix is appended to the trace file name to form its state file.
const Suffix = ".tsstate"

// ErrCorrupt wraps parse problems. Callers treat it as non-fatal.
var ErrCorrupt = errors.New("statefile: corrupt state file")

// RGB is a stored task color.
type RGB struct {
	R, G, B uint8
}

// Geometry is the persisted main-window size.
type Geometry struct {
	W, H int
}

// State is the decoded content of one state file.
type State struct {
	Colors   map[int32]RGB
	Geometry Geometry

	FilterPIDs         []int32
	FilterPIDInclusive bool
	FilterCPUs         []uint16
	FilterEvents       []string
	FilterRegexes      []string
}

// NewState returns an empty state with defaults.
func NewState() *State {
	return &State{Colors: make(map[int32]RGB)}
}

// PathFor maps a trace file path to its state file path. With a
// non-empty dir the state files are collected there under the trace's
// base name, otherwise they sit next to the trace.
func PathFor(tracePath, dir string) string {
	if dir == "" {
		return tracePath + Suffix
	}
	return filepath.Join(dir, filepath.Base(tracePath)+Suffix)
}

// Load reads and parses a state file. A missing file yields an empty
// state and no error; anything else unreadable yields an empty state
// and an error the caller may log and ignore. Unknown keys are
// skipped so newer writers stay compatible.
func Load(path string) (*State, error) {
	st := NewState()
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, err
	}
	defer f.Close()

	var firstErr error
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: line %q", ErrCorrupt, line)
			}
			continue
		}
		if err := st.apply(key, value); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := sc.Err(); err != nil && firstErr == nil {
		firstErr = err
	}
	return st, firstErr
}

func (st *State) apply(key, value string) error {
	switch {
	case strings.HasPrefix(key, "color."):
		pid, err := strconv.ParseInt(key[len("color."):], 10, 32)
		if err != nil {
			return fmt.Errorf("%w: color key %q", ErrCorrupt, key)
		}
		c, err := parseRGB(value)
		if err != nil {
			return err
		}
		st.Colors[int32(pid)] = c
	case key == "geometry":
		w, h, ok := strings.Cut(value, "x")
		if !ok {
			return fmt.Errorf("%w: geometry %q", ErrCorrupt, value)
		}
		wi, err1 := strconv.Atoi(w)
		hi, err2 := strconv.Atoi(h)
		if err1 != nil || err2 != nil || wi < 0 || hi < 0 {
			return fmt.Errorf("%w: geometry %q", ErrCorrupt, value)
		}
		st.Geometry = Geometry{W: wi, H: hi}
	case key == "filter.pids":
		pids, err := parseIntList(value)
		if err != nil {
			return err
		}
		st.FilterPIDs = pids
	case key == "filter.pidinclusive":
		st.FilterPIDInclusive = value == "1"
	case key == "filter.cpus":
		cpus, err := parseIntList(value)
		if err != nil {
			return err
		}
		st.FilterCPUs = make([]uint16, 0, len(cpus))
		for _, c := range cpus {
			if c >= 0 && c < 1<<16 {
				st.FilterCPUs = append(st.FilterCPUs, uint16(c))
			}
		}
	case key == "filter.events":
		st.FilterEvents = splitList(value)
	case key == "filter.regex":
		st.FilterRegexes = append(st.FilterRegexes, value)
	default:
		// Unknown keys are ignored for forward compatibility.
	}
	return nil
}

func parseRGB(s string) (RGB, error) {
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("%w: color %q", ErrCorrupt, s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("%w: color %q", ErrCorrupt, s)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func parseIntList(s string) ([]int32, error) {
	var out []int32
	for _, part := range splitList(s) {
		v, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: list entry %q", ErrCorrupt, part)
		}
		out = append(out, int32(v))
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes the state atomically: temp file then rename.
func (st *State) Save(path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# traceshark per-trace state\n")

	pids := make([]int32, 0, len(st.Colors))
	for pid := range st.Colors {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	for _, pid := range pids {
		c := st.Colors[pid]
		fmt.Fprintf(&b, "color.%d=%02X%02X%02X\n", pid, c.R, c.G, c.B)
	}

	if st.Geometry != (Geometry{}) {
		fmt.Fprintf(&b, "geometry=%dx%d\n", st.Geometry.W, st.Geometry.H)
	}
	if len(st.FilterPIDs) > 0 {
		fmt.Fprintf(&b, "filter.pids=%s\n", joinInts(st.FilterPIDs))
		incl := "0"
		if st.FilterPIDInclusive {
			incl = "1"
		}
		fmt.Fprintf(&b, "filter.pidinclusive=%s\n", incl)
	}
	if len(st.FilterCPUs) > 0 {
		cpus := make([]int32, len(st.FilterCPUs))
		for i, c := range st.FilterCPUs {
			cpus[i] = int32(c)
		}
		fmt.Fprintf(&b, "filter.cpus=%s\n", joinInts(cpus))
	}
	if len(st.FilterEvents) > 0 {
		fmt.Fprintf(&b, "filter.events=%s\n", strings.Join(st.FilterEvents, ","))
	}
	for _, re := range st.FilterRegexes {
		fmt.Fprintf(&b, "filter.regex=%s\n", re)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func joinInts(vs []int32) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatInt(int64(v), 10)
	}
	return strings.Join(parts, ",")
}
