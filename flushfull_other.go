//go:build !darwin

package cryptofile

import "os"

// fullSync 在没有平台级"完全同步"原语的系统上退化为普通 fsync。
func fullSync(file *os.File) error {
	return file.Sync()
}
