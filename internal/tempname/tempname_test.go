package tempname

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateIsUniqueAndUnderTempDir(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("生成临时路径失败: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("生成临时路径失败: %v", err)
	}
	if a == b {
		t.Fatalf("两次生成的临时路径不应相同: %s", a)
	}
	if filepath.Dir(a) != filepath.Clean(os.TempDir()) {
		t.Fatalf("临时路径 %s 不在系统临时目录 %s 下", a, os.TempDir())
	}
}
