//go:build darwin

package cryptofile

import (
	"os"

	"golang.org/x/sys/unix"
)

// fullSync 请求 F_FULLFSYNC，确保数据真正落到存储介质而不是仅仅到磁盘的
// 写缓存。部分文件系统不支持该 fcntl，此时退化为普通 fsync。
func fullSync(file *os.File) error {
	if err := unix.FcntlInt(file.Fd(), unix.F_FULLFSYNC, 0); err != nil {
		return file.Sync()
	}
	return nil
}
