//go:build linux || darwin || freebsd

package utils

import (
	"syscall"
)

const (
	MMAP_READ  int = syscall.PROT_READ
	MMAP_WRITE int = syscall.PROT_WRITE
)

// MemMap reserves n zeroed bytes of anonymous memory outside of the Go heap.
// The region must be returned with MemUnmap.
func MemMap(n uint64, flags int) ([]byte, error) {
	if n == 0 {
		return nil, syscall.EINVAL
	}

	return syscall.Mmap(-1, 0, int(n), flags, syscall.MAP_ANON|syscall.MAP_PRIVATE)
}

func MemUnmap(d []byte) error {
	if d == nil {
		return nil
	}

	return syscall.Munmap(d)
}

func PageSize() uint {
	return uint(syscall.Getpagesize())
}
