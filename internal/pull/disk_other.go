//go:build !unix

package pull

// freeDiskBytes is unknown on platforms without statfs.
func freeDiskBytes(path string) int64 { return -1 }
