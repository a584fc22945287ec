package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gpu-sheet-agent/internal/procinfo"
	"gpu-sheet-agent/internal/sampling"
)

// Mode selects the report shape and the worksheet it lands in.
type Mode string

const (
	// ModeInternal aggregates GPU memory per user on each GPU.
	ModeInternal Mode = "internal"
	// ModeExternal records one row per GPU-bound process.
	ModeExternal Mode = "external"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeInternal:
		return ModeInternal, nil
	case ModeExternal:
		return ModeExternal, nil
	}
	return "", fmt.Errorf("server type must be %q or %q, got %q", ModeInternal, ModeExternal, s)
}

func Header(m Mode) []string {
	if m == ModeInternal {
		return []string{"timestamp", "server", "user", "gpu_id", "mem_used_gb", "total_gb", "util%"}
	}
	return []string{"timestamp", "server", "pid", "cmd", "user", "gpu_id", "mem_used_gb", "total_gb", "util%"}
}

// Timestamp layout and cmdline cap match the sheet's existing rows.
const (
	timestampLayout = "01-02 / 15:04:05"
	cmdlineLimit    = 40
)

type ProcessResolver interface {
	Resolve(pid int) procinfo.Info
}

type userKey struct {
	gpu  int
	user string
}

type procKey struct {
	gpu int
	pid int
}

type gpuState struct {
	utilSum    uint64
	ticks      int
	totalBytes uint64
}

type userState struct {
	maxBytes uint64
}

type procState struct {
	maxBytes uint64
	user     string
	cmd      string
}

// Window accumulates snapshots over the aggregation window and reduces
// them into one batch of summary rows. Utilization reduces to the
// window average per GPU; memory reduces to the window maximum per key,
// so short-lived peaks survive into the report.
type Window struct {
	mode     Mode
	resolver ProcessResolver

	samples int
	end     time.Time

	gpus  map[int]*gpuState
	users map[userKey]*userState
	procs map[procKey]*procState
}

func NewWindow(mode Mode, resolver ProcessResolver) *Window {
	return &Window{
		mode:     mode,
		resolver: resolver,
		gpus:     map[int]*gpuState{},
		users:    map[userKey]*userState{},
		procs:    map[procKey]*procState{},
	}
}

func (w *Window) Samples() int { return w.samples }

// Observe folds one snapshot into the window. Users are resolved here,
// while the PIDs are still alive, not at reduce time.
func (w *Window) Observe(snap sampling.Snapshot) {
	w.samples++
	if snap.TakenAt.After(w.end) {
		w.end = snap.TakenAt
	}

	for _, g := range snap.GPUs {
		gs := w.gpus[g.Index]
		if gs == nil {
			gs = &gpuState{}
			w.gpus[g.Index] = gs
		}
		gs.utilSum += uint64(g.UtilGPU)
		gs.ticks++
		gs.totalBytes = g.MemTotalBytes

		switch w.mode {
		case ModeInternal:
			w.observeUsers(g)
		case ModeExternal:
			w.observeProcs(g)
		}
	}
}

func (w *Window) observeUsers(g sampling.GPUSnapshot) {
	// Per-tick sum per user, then max across ticks.
	tick := map[userKey]uint64{}
	for _, p := range g.ComputeProcs {
		info := w.resolver.Resolve(p.PID)
		tick[userKey{gpu: g.Index, user: info.User}] += p.UsedBytes
	}
	for k, bytes := range tick {
		us := w.users[k]
		if us == nil {
			us = &userState{}
			w.users[k] = us
		}
		if bytes > us.maxBytes {
			us.maxBytes = bytes
		}
	}
}

func (w *Window) observeProcs(g sampling.GPUSnapshot) {
	for _, p := range g.ComputeProcs {
		k := procKey{gpu: g.Index, pid: p.PID}
		ps := w.procs[k]
		if ps == nil {
			info := w.resolver.Resolve(p.PID)
			ps = &procState{user: info.User, cmd: truncate(info.Cmdline, cmdlineLimit)}
			w.procs[k] = ps
		}
		if p.UsedBytes > ps.maxBytes {
			ps.maxBytes = p.UsedBytes
		}
	}
}

// Reduce builds the summary rows. GPUs that saw no processes over the
// whole window get an IDLE placeholder row so the sheet still shows
// them.
func (w *Window) Reduce(server string, loc *time.Location) [][]interface{} {
	end := w.end
	if end.IsZero() {
		end = time.Now()
	}
	ts := end.In(loc).Format(timestampLayout)

	rows := [][]interface{}{}
	for _, gpu := range w.sortedGPUs() {
		gs := w.gpus[gpu]
		util := int(math.Round(float64(gs.utilSum) / float64(gs.ticks)))
		totalGB := gib(gs.totalBytes)

		switch w.mode {
		case ModeInternal:
			users := w.usersOn(gpu)
			if len(users) == 0 {
				rows = append(rows, []interface{}{ts, server, "IDLE", gpu, 0.0, totalGB, util})
				continue
			}
			for _, u := range users {
				mem := gib(w.users[userKey{gpu: gpu, user: u}].maxBytes)
				rows = append(rows, []interface{}{ts, server, u, gpu, mem, totalGB, util})
			}
		case ModeExternal:
			pids := w.pidsOn(gpu)
			if len(pids) == 0 {
				rows = append(rows, []interface{}{ts, server, 0, "IDLE", "-", gpu, 0.0, totalGB, util})
				continue
			}
			for _, pid := range pids {
				ps := w.procs[procKey{gpu: gpu, pid: pid}]
				rows = append(rows, []interface{}{ts, server, pid, ps.cmd, ps.user, gpu, gib(ps.maxBytes), totalGB, util})
			}
		}
	}
	return rows
}

func (w *Window) sortedGPUs() []int {
	out := make([]int, 0, len(w.gpus))
	for gpu := range w.gpus {
		out = append(out, gpu)
	}
	sort.Ints(out)
	return out
}

func (w *Window) usersOn(gpu int) []string {
	out := []string{}
	for k := range w.users {
		if k.gpu == gpu {
			out = append(out, k.user)
		}
	}
	sort.Strings(out)
	return out
}

func (w *Window) pidsOn(gpu int) []int {
	out := []int{}
	for k := range w.procs {
		if k.gpu == gpu {
			out = append(out, k.pid)
		}
	}
	sort.Ints(out)
	return out
}

func gib(bytes uint64) float64 {
	return math.Round(float64(bytes)/(1<<30)*1000) / 1000
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
