//go:build !windows

package filesystem

import "os"

// osReplace performs an atomic rename on POSIX systems.
func osReplace(tmpPath, dest string) error {
	return os.Rename(tmpPath, dest)
}

// syncDir best-effort fsync of the parent directory so the rename survives a crash.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
