package stats

import (
	"io"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/pprof/profile"
)

const Stats = false
const Timing = false

var Nirqs [100]int
var Irqs int

/// Rdtsc returns a monotonic cycle-ish counter when enabled. A hosted
/// build has no real TSC to read, so this counts nanoseconds instead;
/// only relative deltas (Cycles_t.Add) are ever meaningful.
func Rdtsc() uint64 {
	if Stats {
		return uint64(time.Now().UnixNano())
	} else {
		return 0
	}
}

/// Counter_t is a statistical counter.
type Counter_t int64

/// Cycles_t holds a cycle count.
type Cycles_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

/// Add adds elapsed cycles to the counter.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Rdtsc()-m))
	}
}

/// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}

	}
	return s + "\n"
}

/// TaskSample is one task's accounting snapshot for DumpProfile: a
/// name plus the counter values to attach as pprof sample values.
type TaskSample struct {
	Name      string
	RuntimeNs int64
	RunqDepth int64
}

/// DumpProfile renders per-task CPU accounting and run-queue depth as
/// a pprof profile.Profile, one pseudo-stack frame per task name, so
/// scheduling behavior can be inspected offline with the standard
/// pprof tooling instead of ad hoc log parsing.
func DumpProfile(w io.Writer, samples []TaskSample) error {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "runtime", Unit: "nanoseconds"},
			{Type: "runq_depth", Unit: "count"},
		},
		PeriodType: &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:     1,
		TimeNanos:  time.Now().UnixNano(),
	}

	for i, s := range samples {
		fn := &profile.Function{
			ID:   uint64(i + 1),
			Name: s.Name,
		}
		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: fn}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{s.RuntimeNs, s.RunqDepth},
		})
	}

	if err := p.CheckValid(); err != nil {
		return err
	}
	return p.Write(w)
}
