// Package disk measures on-disk footprint of directory trees.
package disk

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/r-xue/psrecord/pkg/types"
)

// DirSize returns the total size of all regular files below root. Symlinks
// to regular files count with the size of their target.
//
// Directories under active use get written, rotated and deleted while we
// walk them, so any error during the scan (including a missing root) yields
// 0 for this call rather than a partial total. Broken symlinks are skipped.
func DirSize(root string) types.Bytes {
	var total uint64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		switch {
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += uint64(info.Size())
		case d.Type()&fs.ModeSymlink != 0:
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
			total += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return 0
	}
	return types.ToBytes(total)
}
