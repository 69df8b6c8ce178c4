//go:build unix

package securealloc

import "golang.org/x/sys/unix"

func pageSize() int {
	return unix.Getpagesize()
}

func lock(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Mlock(buf)
}

func unlock(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Munlock(buf)
}
