//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/r-xue/psrecord/pkg/record"
	"github.com/r-xue/psrecord/pkg/sink"
	"github.com/r-xue/psrecord/pkg/snapshot"
	"github.com/r-xue/psrecord/pkg/system/spawn"
)

type opts struct {
	// sampling
	interval        time.Duration
	duration        time.Duration
	includeChildren bool
	includeIO       bool
	includeDir      string
	backend         string

	// outputs
	logPath   string
	logFormat string
	plotPath  string

	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var o opts

	root := &cobra.Command{
		Use:   "psrecord PID|COMMAND",
		Short: "Record the CPU and memory activity of a process",
		Long: `psrecord samples CPU, memory, I/O and (optionally) the size of a directory
for a running process or a command it starts itself, optionally including
every descendant process. Samples are written as a log (plain, csv or
json lines) and/or rendered as a CPU / real memory plot when recording stops.

If the argument is an integer it is treated as the pid of a running process;
anything else is run through "sh -c" and killed (with its whole process
group) once recording stops.

--interval and --duration take a unit: write 100ms or 0.1s, not 0.1.

Examples:
  psrecord 1330 --log activity.txt
  psrecord "python script.py" --interval 500ms --plot plot.png
  psrecord "make -j8" --include-children --log build.csv --log-format csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o, args[0])
		},
	}

	root.Flags().StringVar(&o.logPath, "log", "", "write samples to this file (stdout when neither --log nor --plot is set)")
	root.Flags().StringVar(&o.logFormat, "log-format", string(sink.FormatPlain), "log format: plain, csv or json")
	root.Flags().StringVar(&o.plotPath, "plot", "", "render a CPU/memory plot to this file (.png or .svg)")
	root.Flags().DurationVar(&o.duration, "duration", 0, "stop recording after this long, e.g. 30s or 2m (0 = until the process exits)")
	root.Flags().DurationVar(&o.interval, "interval", 0, "pause between samples, e.g. 500ms or 0.1s (0 = as fast as possible)")
	root.Flags().BoolVar(&o.includeChildren, "include-children", false, "add up the activity of all descendant processes")
	root.Flags().BoolVar(&o.includeIO, "include-io", false, "record read/write counts and bytes")
	root.Flags().StringVar(&o.includeDir, "include-dir", "", "record the total size of this directory")
	root.Flags().StringVar(&o.backend, "backend", string(snapshot.BackendPsutil), "process metrics backend: psutil or procfs")
	root.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "log absorbed per-process errors")

	return root
}

func run(ctx context.Context, o opts, target string) error {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("run", uuid.NewString())
	slog.SetDefault(log)

	// Everything that can be wrong with the invocation is checked before a
	// file is created or a command is started.
	cfg := record.Config{
		Interval:        o.interval,
		Duration:        o.duration,
		IncludeChildren: o.includeChildren,
		IncludeIO:       o.includeIO,
		Dir:             o.includeDir,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	format, err := sink.ParseFormat(o.logFormat)
	if err != nil {
		return err
	}
	backend, err := snapshot.ParseBackend(o.backend)
	if err != nil {
		return err
	}
	cols := sink.Columns{IO: o.includeIO, Dir: o.includeDir != ""}

	var plot *sink.Plot
	if o.plotPath != "" {
		if plot, err = sink.NewPlot(o.plotPath, o.includeIO); err != nil {
			return err
		}
	}

	var h snapshot.Handle
	pid, attach := parsePID(target)
	if attach {
		if h, err = snapshot.Open(pid); err != nil {
			return fmt.Errorf("attach to pid %d: %w", pid, err)
		}
		log.Info("attaching to process", "pid", pid)
	}

	var sinks []record.Sink
	switch {
	case o.logPath != "":
		l, err := sink.NewLogFile(o.logPath, format, cols)
		if err != nil {
			return err
		}
		sinks = append(sinks, l)
	case o.plotPath == "":
		l, err := sink.NewLog(os.Stdout, format, cols)
		if err != nil {
			return err
		}
		sinks = append(sinks, l)
	}
	if plot != nil {
		sinks = append(sinks, plot)
	}

	src, err := snapshot.New(backend)
	if err != nil {
		return err
	}
	defer src.Close()

	m, err := record.New(cfg, src, sinks, record.WithLogger(log))
	if err != nil {
		return err
	}

	// The command runs in its own process group and never sees a terminal
	// Ctrl-C; catch it before the command exists so the group is always killed.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !attach {
		p, err := spawn.Start(target)
		if err != nil {
			closeAll(log, sinks)
			return err
		}
		defer func() {
			if err := p.Terminate(); err != nil {
				log.Warn("terminate command", "pid", p.Pid(), "err", err)
			}
		}()
		log.Info("starting command", "cmd", target, "pid", p.Pid())
		if h, err = snapshot.Open(p.Pid()); err != nil {
			closeAll(log, sinks)
			return fmt.Errorf("open spawned process: %w", err)
		}
	}

	res, err := m.Run(ctx, h)
	if err != nil {
		log.Warn("closing outputs", "err", err)
	}

	sum := res.Summary
	log.Info("recording stopped",
		"reason", res.Reason.String(),
		"elapsed", fmt.Sprintf("%.2fs", res.Elapsed.Seconds()),
		"samples", sum.Samples,
		"avg_cpu", fmt.Sprintf("%.1f%%", sum.AvgCPU),
		"peak_cpu", fmt.Sprintf("%.1f%%", sum.PeakCPU),
		"avg_mem_real", sum.AvgMemReal,
		"peak_mem_real", sum.PeakMemReal,
		"peak_nproc", sum.PeakNProc,
	)
	if plot != nil && !plot.Rendered() && err == nil {
		log.Warn("plot skipped: need at least two samples over a non-zero time span",
			"path", o.plotPath, "samples", sum.Samples)
	}
	return nil
}

// parsePID reports whether target is a pid rather than a command.
func parsePID(target string) (int, bool) {
	pid, err := strconv.Atoi(target)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func closeAll(log *slog.Logger, sinks []record.Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Warn("close output", "err", err)
		}
	}
}
