// Package tempname 为易失性容器生成唯一的临时路径。
package tempname

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Generate 返回系统临时目录下一个尚不存在的唯一路径。
func Generate() (string, error) {
	suffix := make([]byte, 16)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("tempname: 生成随机后缀失败: %w", err)
	}

	name := fmt.Sprintf("cryptofile-%s.tmp", hex.EncodeToString(suffix))
	return filepath.Join(os.TempDir(), name), nil
}
