//go:build unix

package pull

import "golang.org/x/sys/unix"

// freeDiskBytes returns the free bytes available to unprivileged writers on
// the filesystem holding path, or -1 when it cannot be determined.
func freeDiskBytes(path string) int64 {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return -1
	}
	return int64(st.Bavail) * int64(st.Bsize)
}
