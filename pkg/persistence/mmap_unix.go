//go:build unix

package persistence

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps a file read-only into memory.
func mmapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
}

// munmapFile unmaps the memory region.
func munmapFile(data []byte) error {
	return unix.Munmap(data)
}
