//go:build !(linux || darwin || freebsd)

package utils

import (
	"errors"
	"os"
)

const (
	MMAP_READ  int = 1 << 0
	MMAP_WRITE int = 1 << 1
)

var errInvalidSize = errors.New("invalid mapping size")

// MemMap falls back to a heap allocation where anonymous mappings are unavailable.
func MemMap(n uint64, flags int) ([]byte, error) {
	if n == 0 {
		return nil, errInvalidSize
	}

	return make([]byte, n), nil
}

func MemUnmap(d []byte) error {
	return nil
}

func PageSize() uint {
	return uint(os.Getpagesize())
}
