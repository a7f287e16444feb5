package analyze

import (
	"fmt"

	"github.com/yorickbrunet/traceshark/trace"
)

// Color is an RGB task color.
type Color struct {
	R, G, B uint8
}

func (c Color) String() string {
	return fmt.Sprintf("%02X%02X%02X", c.R, c.G, c.B)
}

// palette is the default task palette: 16 perceptually distinct
// entries assigned round-robin by PID. Persisted per-trace colors
// override these.
var palette = [16]Color{
	{0x1F, 0x77, 0xB4},
	{0xFF, 0x7F, 0x0E},
	{0x2C, 0xA0, 0x2C},
	{0xD6, 0x27, 0x28},
	{0x94, 0x67, 0xBD},
	{0x8C, 0x56, 0x4B},
	{0xE3, 0x77, 0xC2},
	{0x7F, 0x7F, 0x7F},
	{0xBC, 0xBD, 0x22},
	{0x17, 0xBE, 0xCF},
	{0xAE, 0xC7, 0xE8},
	{0xFF, 0xBB, 0x78},
	{0x98, 0xDF, 0x8A},
	{0xFF, 0x98, 0x96},
	{0xC5, 0xB0, 0xD5},
	{0xC4, 0x9C, 0x94},
}

// DefaultColor maps a PID to its palette entry. The mapping is stable
// across runs so uncustomized traces always color the same way.
func DefaultColor(pid int32) Color {
	return palette[uint32(pid)%uint32(len(palette))]
}

// Task is the long-lived per-PID record. Distinct PIDs sharing a name
// are distinct tasks. When a PID is recycled the older record stays
// around as a ghost: it keeps its timelines' history in the event
// store but is no longer reachable from the task map.
type Task struct {
	PID     int32
	Name    string
	NameRef trace.StringRef
	Color   Color

	// CreateIdx/ExitIdx index the fork/exit events, -1 when the task
	// predates or outlives the trace.
	CreateIdx trace.EventID
	ExitIdx   trace.EventID

	// Ghost marks a task whose PID was recycled mid-trace.
	Ghost bool
	// Generation counts PID reuse; it suffixes the display name.
	Generation int
}

// CPUTask is one (PID, CPU) timeline track: the parallel arrays a
// plotter draws directly. Times are seconds; y values are unit-height
// and scaled by the plotter to the track's lane.
type CPUTask struct {
	PID int32
	CPU uint16

	// Scheduling step function: 1 while on-CPU, 0 while off. The two
	// vectors always have equal length, SchedTimev is non-decreasing
	// and SchedData strictly alternates.
	SchedTimev []float64
	SchedData  []float64

	// Wakeup-latency error bars. DelayTimev[i] is the wakeup instant;
	// DelayTimev[i]+Delay[i] is the moment the task got the CPU.
	// DelayZero/DelayHeight/VerticalDelay are the plotter's bar
	// baseline, cap and stem arrays.
	Delay         []float64
	DelayZero     []float64
	DelayHeight   []float64
	DelayTimev    []float64
	VerticalDelay []float64

	// Sleep-reason scatter points at switch-out instants.
	RunningTimev         []float64
	RunningData          []float64
	PreemptedTimev       []float64
	PreemptedData        []float64
	UninterruptibleTimev []float64
	UninterruptibleData  []float64
}

const (
	schedLevelOff = 0.0
	schedLevelOn  = 1.0
	scatterHeight = 1.0
	delayHeight   = 0.6
)

// switchIn appends an on-CPU step at t. Steps only ever append when
// the level actually changes, keeping the alternation invariant.
func (ct *CPUTask) switchIn(t trace.Timestamp) {
	ct.step(t, schedLevelOn)
}

// switchOut appends an off-CPU step at t.
func (ct *CPUTask) switchOut(t trace.Timestamp) {
	ct.step(t, schedLevelOff)
}

func (ct *CPUTask) step(t trace.Timestamp, level float64) {
	if n := len(ct.SchedData); n > 0 && ct.SchedData[n-1] == level {
		return
	}
	ct.SchedTimev = append(ct.SchedTimev, t.Seconds())
	ct.SchedData = append(ct.SchedData, level)
}

// addDelay records one wakeup-to-schedule interval starting at wake.
func (ct *CPUTask) addDelay(wake, delay trace.Timestamp) {
	d := delay.Seconds()
	ct.DelayTimev = append(ct.DelayTimev, wake.Seconds())
	ct.Delay = append(ct.Delay, d)
	ct.DelayZero = append(ct.DelayZero, 0)
	ct.DelayHeight = append(ct.DelayHeight, delayHeight)
	ct.VerticalDelay = append(ct.VerticalDelay, d)
}

func (ct *CPUTask) addStillRunning(t trace.Timestamp) {
	ct.RunningTimev = append(ct.RunningTimev, t.Seconds())
	ct.RunningData = append(ct.RunningData, scatterHeight)
}

func (ct *CPUTask) addPreempted(t trace.Timestamp) {
	ct.PreemptedTimev = append(ct.PreemptedTimev, t.Seconds())
	ct.PreemptedData = append(ct.PreemptedData, scatterHeight)
}

func (ct *CPUTask) addUninterruptible(t trace.Timestamp) {
	ct.UninterruptibleTimev = append(ct.UninterruptibleTimev, t.Seconds())
	ct.UninterruptibleData = append(ct.UninterruptibleData, scatterHeight)
}
