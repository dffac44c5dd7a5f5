package proc

import "errors"

var (
	// ErrNoStat indicates that /proc/<pid>/stat was empty or malformed.
	ErrNoStat = errors.New("proc: malformed or empty stat")

	// ErrNoRSS indicates that statm had fewer than two fields.
	ErrNoRSS = errors.New("proc: no rss")

	// ErrNoChildren indicates that no child of the pid could be found.
	ErrNoChildren = errors.New("proc: no children")

	// ErrShortStat indicates that /proc/<pid>/stat had fewer fields than expected.
	ErrShortStat = errors.New("proc: short stat")

	// ErrNoProcess indicates that the pid is not present in /proc.
	ErrNoProcess = errors.New("proc: no such process")
)
