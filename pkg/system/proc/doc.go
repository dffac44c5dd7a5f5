// Package proc provides lightweight readers for the Linux /proc filesystem. It is the low-level layer under pkg/snapshot: everything
// here reads one file for one pid and returns raw counters, leaving rates,
// percentages and aggregation to the caller.
//
// Overview
//
//   - Per-PID readers:
//     ReadStat(pid)   : state, ppid, utime/stime jiffies and starttime from stat
//     ReadStatm(pid)  : virtual and resident size in bytes from statm
//     ReadSwap(pid)   : VmSwap from status, in bytes
//     ReadIO(pid)     : syscr/syscw/read_bytes/write_bytes from io
//
//   - Process tree:
//     ReadProcChildren(pid) : direct children from task/*/children, or a
//     full ppid scan (via prometheus/procfs) on kernels without
//     CONFIG_PROC_CHILDREN.
//     Descendants(pid)      : breadth-first transitive closure over
//     ReadProcChildren.
//
//   - Helpers:
//     Exists(pid), ClockTicks() (sysconf _SC_CLK_TCK), PageSize(); the last
//     two honour the CLK_TCK and PAGE_SIZE env overrides for tests.
//
//   - Errors (errs.go):
//     ErrNoStat, ErrShortStat : malformed stat line
//     ErrNoRSS                : malformed statm
//     ErrNoChildren           : pid has no children (or is gone)
//     ErrNoProcess            : Descendants called for a pid not in /proc
//
// # Identity
//
// A pid alone does not identify a process: the kernel recycles pids. The
// starttime field of stat (jiffies after boot) never changes for the life of
// a process, so (pid, starttime) is a stable identity. pkg/snapshot builds
// its Handle from exactly that pair.
//
// # Races
//
// Every reader can fail with ENOENT or ESRCH when the process exits between
// two reads. Callers are expected to treat any error for a pid as "this
// process is gone for this sample" rather than as a fatal condition.
package proc
