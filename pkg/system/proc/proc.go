//go:build linux

package proc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
	"github.com/tklauser/go-sysconf"
)

// ClockTicks returns the number of jiffies (clock ticks) per second.
// The CLK_TCK env var wins (useful for testing), then sysconf(_SC_CLK_TCK),
// then 100, the common default.
func ClockTicks() int {
	v, _ := strconv.Atoi(os.Getenv("CLK_TCK"))
	if v > 0 {
		return v
	}
	if tck, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && tck > 0 {
		return int(tck)
	}
	return 100
}

// PageSize returns the system memory page size in bytes.
// Like ClockTicks, it first checks an env override (PAGE_SIZE)
// to ease testing, then falls back to os.Getpagesize().
func PageSize() int {
	if ps := os.Getenv("PAGE_SIZE"); ps != "" {
		if v, _ := strconv.Atoi(ps); v > 0 {
			return v
		}
	}
	return os.Getpagesize()
}

// Exists reports whether a given PID currently exists in /proc.
// It simply checks if /proc/<pid> is a valid directory.
func Exists(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}

//
// Per-PID readers
//

// Stat is the subset of /proc/<pid>/stat the sampler needs.
type Stat struct {
	State     byte   // R, S, D, Z, T, t, X, I ...
	PPID      int    // parent pid
	UTime     uint64 // user CPU jiffies
	STime     uint64 // system CPU jiffies
	StartTime uint64 // jiffies after boot; stable for the lifetime of the pid
}

// ReadStat parses /proc/<pid>/stat.
//
// Caveats:
//   - Field order is fixed, but comm (2nd field) is in parens and may contain
//     spaces. We strip everything before the closing ") " safely.
//   - StartTime together with the pid identifies a process even when the
//     kernel recycles pids.
func ReadStat(pid int) (Stat, error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return Stat{}, err
	}
	return parseStat(string(b))
}

func parseStat(line string) (Stat, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Stat{}, ErrNoStat
	}

	// Everything before ") " is pid + comm; after that are numeric fields.
	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return Stat{}, ErrNoStat
	}
	fields := strings.Fields(line[i+2:])

	// Indexes relative to fields slice:
	// state (3rd overall) => fields[0]
	// ppid (4th overall) => fields[1]
	// utime (14th overall) => fields[11]
	// stime (15th overall) => fields[12]
	// starttime (22nd overall) => fields[19]
	if len(fields) < 20 || fields[0] == "" {
		return Stat{}, ErrShortStat
	}

	var st Stat
	st.State = fields[0][0]
	st.PPID, _ = strconv.Atoi(fields[1])
	st.UTime, _ = strconv.ParseUint(fields[11], 10, 64)
	st.STime, _ = strconv.ParseUint(fields[12], 10, 64)
	start, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return Stat{}, fmt.Errorf("proc: starttime: %w", err)
	}
	st.StartTime = start
	return st, nil
}

// IO mirrors /proc/<pid>/io. SysCR/SysCW are read/write syscall counts.
type IO struct {
	SysCR      uint64
	SysCW      uint64
	ReadBytes  uint64
	WriteBytes uint64
}

// ReadIO reads /proc/<pid>/io. These counters are monotonic.
//
// Note: Not all processes expose this file (some kernel threads, or
// processes owned by another user); in that case you'll get an error.
func ReadIO(pid int) (IO, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/io", pid))
	if err != nil {
		return IO{}, err
	}
	defer f.Close()

	var out IO
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		v, _ := strconv.ParseUint(strings.TrimSpace(val), 10, 64)
		switch key {
		case "syscr":
			out.SysCR = v
		case "syscw":
			out.SysCW = v
		case "read_bytes":
			out.ReadBytes = v
		case "write_bytes":
			out.WriteBytes = v
		}
	}
	return out, sc.Err()
}

// ReadStatm returns the virtual and resident sizes in bytes from
// /proc/<pid>/statm (fields 1 and 2, in pages).
func ReadStatm(pid int) (vms, rss uint64, err error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return 0, 0, err
	}
	fs := strings.Fields(string(b))
	if len(fs) < 2 {
		return 0, 0, ErrNoRSS
	}
	page := uint64(PageSize())
	vp, _ := strconv.ParseUint(fs[0], 10, 64)
	rp, _ := strconv.ParseUint(fs[1], 10, 64)
	return vp * page, rp * page, nil
}

// ReadSwap returns VmSwap from /proc/<pid>/status in bytes.
// Kernel threads and zombies have no VmSwap line; that reads as 0.
func ReadSwap(pid int) (uint64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if !strings.HasPrefix(sc.Text(), "VmSwap:") {
			continue
		}
		fs := strings.Fields(sc.Text())
		if len(fs) >= 2 {
			kb, _ := strconv.ParseUint(fs[1], 10, 64)
			return kb * 1024, nil
		}
	}
	return 0, sc.Err()
}

//
// Process tree
//

// ReadProcChildren returns the direct child PIDs of a process by reading
// /proc/<pid>/task/*/children files. Each children file lists space-separated
// PIDs for that thread's children.
//
// Notes:
//   - Kernel 3.5+ with CONFIG_PROC_CHILDREN exposes this interface. When the
//     files are missing entirely we fall back to scanning every
//     /proc/<pid>/stat for a matching ppid.
//   - We deduplicate across threads by using a set.
//   - If no children are found, returns ErrNoChildren.
func ReadProcChildren(pid int) ([]int, error) {
	glob := fmt.Sprintf("/proc/%d/task/*/children", pid)
	paths, _ := filepath.Glob(glob)
	if len(paths) == 0 && Exists(pid) {
		return scanChildren(pid)
	}

	set := map[int]struct{}{}
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		for _, s := range strings.Fields(string(b)) {
			if id, err := strconv.Atoi(s); err == nil {
				set[id] = struct{}{}
			}
		}
	}
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, ErrNoChildren
	}
	return out, nil
}

// scanChildren finds the children of pid by checking the parent of every
// process on the system.
func scanChildren(pid int) ([]int, error) {
	procs, err := procfs.AllProcs()
	if err != nil {
		return nil, err
	}
	var out []int
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			continue
		}
		if st.PPID == pid {
			out = append(out, p.PID)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoChildren
	}
	return out, nil
}

// Descendants walks the process tree below pid breadth-first and returns
// every transitive child, parents before their own children.
//
// It fails with ErrNoProcess only when pid itself is gone; a child that
// exits mid-walk simply ends its branch.
func Descendants(pid int) ([]int, error) {
	if !Exists(pid) {
		return nil, fmt.Errorf("%w: %d", ErrNoProcess, pid)
	}

	var (
		out   []int
		seen  = map[int]struct{}{pid: {}}
		queue = []int{pid}
	)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		kids, err := ReadProcChildren(cur)
		if err != nil {
			continue
		}
		for _, k := range kids {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
			queue = append(queue, k)
		}
	}
	return out, nil
}
