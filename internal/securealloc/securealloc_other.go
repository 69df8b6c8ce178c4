//go:build !unix

package securealloc

import "fmt"

func pageSize() int {
	return 4096
}

func lock(buf []byte) error {
	return fmt.Errorf("securealloc: page locking is not implemented on this platform")
}

func unlock(buf []byte) error {
	return nil
}
