package cryptofile

import (
	"bytes"
	"crypto/rand"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bpfs/cryptofile/config"
)

func fastOptions() Option {
	return WithKDFTarget(5 * time.Millisecond)
}

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "container.bin")
}

func TestCreateWriteReadCloseOpenRead(t *testing.T) {
	path := tempPath(t)

	c, err := Create(path, "hello", KeySize256, fastOptions())
	if err != nil {
		t.Fatalf("创建容器失败: %v", err)
	}
	if err := c.Write([]byte("The quick brown fox")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}

	reopened, err := Open(path, "hello", true, fastOptions())
	if err != nil {
		t.Fatalf("重新打开失败: %v", err)
	}
	defer reopened.Close()

	if reopened.Size() != 19 {
		t.Fatalf("size 为 %d，期望 19", reopened.Size())
	}
	buf := make([]byte, 19)
	n, err := reopened.Read(buf)
	if err != nil || n != 19 {
		t.Fatalf("读取失败: n=%d err=%v", n, err)
	}
	if string(buf) != "The quick brown fox" {
		t.Fatalf("读取内容为 %q，期望 %q", buf, "The quick brown fox")
	}
}

func TestSeekPastEOFThenWrite(t *testing.T) {
	path := tempPath(t)

	c, err := Create(path, "p", KeySize128, fastOptions())
	if err != nil {
		t.Fatalf("创建容器失败: %v", err)
	}
	defer c.Close()

	if _, err := c.Seek(1000, SeekStart); err != nil {
		t.Fatalf("seek 失败: %v", err)
	}
	if err := c.Write([]byte("X")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if c.Size() != 1001 {
		t.Fatalf("size 为 %d，期望 1001", c.Size())
	}

	if _, err := c.Seek(500, SeekStart); err != nil {
		t.Fatalf("seek 失败: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := c.Read(buf); err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if buf[0] != 0x00 {
		t.Fatalf("读取到 %x，期望空洞字节为 0x00", buf[0])
	}

	if _, err := c.Seek(1000, SeekStart); err != nil {
		t.Fatalf("seek 失败: %v", err)
	}
	if _, err := c.Read(buf); err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if buf[0] != 'X' {
		t.Fatalf("读取到 %q，期望 'X'", buf[0])
	}
}

func TestTruncateDownMidSector(t *testing.T) {
	path := tempPath(t)

	c, err := Create(path, "p", KeySize256, fastOptions())
	if err != nil {
		t.Fatalf("创建容器失败: %v", err)
	}

	if err := c.Write(make([]byte, 10000)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := c.Truncate(513); err != nil {
		t.Fatalf("truncate 失败: %v", err)
	}
	if c.Size() != 513 {
		t.Fatalf("size 为 %d，期望 513", c.Size())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}

	reopened, err := Open(path, "p", true, fastOptions())
	if err != nil {
		t.Fatalf("重新打开失败: %v", err)
	}
	defer reopened.Close()

	buf := make([]byte, 600)
	n, err := reopened.Read(buf)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if n != 513 {
		t.Fatalf("读取到 %d 字节，期望 513", n)
	}
	if !bytes.Equal(buf[:513], make([]byte, 513)) {
		t.Fatalf("截断后剩余内容应全部为零字节")
	}
}

func TestChangePassword(t *testing.T) {
	path := tempPath(t)

	c, err := Create(path, "old", KeySize256, fastOptions())
	if err != nil {
		t.Fatalf("创建容器失败: %v", err)
	}
	if err := c.Write([]byte("secret data")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := c.ChangePassword("new"); err != nil {
		t.Fatalf("修改密码失败: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}

	if _, err := Open(path, "old", true, fastOptions()); KindOf(err) != KindPassword {
		t.Fatalf("用旧密码打开应返回 Password 错误，实际: %v", err)
	}

	reopened, err := Open(path, "new", true, fastOptions())
	if err != nil {
		t.Fatalf("用新密码打开失败: %v", err)
	}
	defer reopened.Close()

	buf := make([]byte, len("secret data"))
	if _, err := reopened.Read(buf); err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if string(buf) != "secret data" {
		t.Fatalf("读取内容为 %q，期望 %q", buf, "secret data")
	}
}

func TestWrongPasswordReturnsPasswordKind(t *testing.T) {
	path := tempPath(t)

	c, err := Create(path, "correct-horse", KeySize256, fastOptions())
	if err != nil {
		t.Fatalf("创建容器失败: %v", err)
	}
	c.Close()

	_, err = Open(path, "bad", true, fastOptions())
	if KindOf(err) != KindPassword {
		t.Fatalf("期望 Password 错误，实际: %v", err)
	}
}

func TestVolatileRoundTripRandomNonAlignedWrites(t *testing.T) {
	c, err := CreateVolatile("", KeySize256, fastOptions())
	if err != nil {
		t.Fatalf("创建易失性容器失败: %v", err)
	}
	defer c.Close()

	const total = 1 << 20
	data := make([]byte, total)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("生成随机数据失败: %v", err)
	}

	pos := 0
	for pos < total {
		chunk := 1 + randIntn(t, 4096)
		if pos+chunk > total {
			chunk = total - pos
		}
		if _, err := c.Seek(int64(pos), SeekStart); err != nil {
			t.Fatalf("seek 失败: %v", err)
		}
		if err := c.Write(data[pos : pos+chunk]); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
		pos += chunk
	}

	readBack := make([]byte, total)
	if _, err := c.Seek(0, SeekStart); err != nil {
		t.Fatalf("seek 失败: %v", err)
	}
	n, err := c.Read(readBack)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if n != total {
		t.Fatalf("读取到 %d 字节，期望 %d", n, total)
	}
	if !bytes.Equal(readBack, data) {
		t.Fatalf("读回内容与写入内容不一致")
	}
}

func TestReadOnlyContainerRejectsMutation(t *testing.T) {
	path := tempPath(t)

	c, err := Create(path, "p", KeySize256, fastOptions())
	if err != nil {
		t.Fatalf("创建容器失败: %v", err)
	}
	if err := c.Write([]byte("data")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	c.Close()

	ro, err := Open(path, "p", true, fastOptions())
	if err != nil {
		t.Fatalf("只读打开失败: %v", err)
	}
	defer ro.Close()

	if err := ro.Write([]byte("x")); KindOf(err) != KindReadOnly {
		t.Fatalf("只读容器写入应返回 ReadOnly，实际: %v", err)
	}
	if err := ro.Truncate(0); KindOf(err) != KindReadOnly {
		t.Fatalf("只读容器 truncate 应返回 ReadOnly，实际: %v", err)
	}
	if err := ro.ChangePassword("new"); KindOf(err) != KindReadOnly {
		t.Fatalf("只读容器修改密码应返回 ReadOnly，实际: %v", err)
	}
}

func TestImpersonationCompatibility(t *testing.T) {
	pathA := tempPath(t)
	pathB := filepath.Join(filepath.Dir(pathA), "impersonated.bin")

	a, err := Create(pathA, "shared-pass", KeySize256, fastOptions())
	if err != nil {
		t.Fatalf("创建源容器失败: %v", err)
	}
	if err := a.Write([]byte("source data")); err != nil {
		t.Fatalf("写入源容器失败: %v", err)
	}

	b, err := CreateImpersonated(a, pathB, fastOptions())
	if err != nil {
		t.Fatalf("创建模拟容器失败: %v", err)
	}
	if err := b.Write([]byte("distinct data")); err != nil {
		t.Fatalf("写入模拟容器失败: %v", err)
	}

	a.Close()
	b.Close()

	reopenedB, err := Open(pathB, "shared-pass", true, fastOptions())
	if err != nil {
		t.Fatalf("用源密码打开模拟容器失败: %v", err)
	}
	defer reopenedB.Close()

	buf := make([]byte, len("distinct data"))
	if _, err := reopenedB.Read(buf); err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if string(buf) != "distinct data" {
		t.Fatalf("读取内容为 %q，期望 %q", buf, "distinct data")
	}
}

func TestCanOpenProbe(t *testing.T) {
	path := tempPath(t)

	if CanOpen(path) {
		t.Fatalf("不存在的文件应返回 false")
	}

	c, err := Create(path, "p", KeySize256, fastOptions())
	if err != nil {
		t.Fatalf("创建容器失败: %v", err)
	}
	c.Close()

	if !CanOpen(path) {
		t.Fatalf("合法容器文件应返回 true")
	}

	if err := os.WriteFile(path, []byte("not a container"), 0666); err != nil {
		t.Fatalf("覆盖文件失败: %v", err)
	}
	if CanOpen(path) {
		t.Fatalf("非容器文件应返回 false")
	}
}

func TestFlippedHeaderBitRejectsOpen(t *testing.T) {
	path := tempPath(t)

	c, err := Create(path, "p", KeySize256, fastOptions())
	if err != nil {
		t.Fatalf("创建容器失败: %v", err)
	}
	c.Close()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("打开底层文件失败: %v", err)
	}
	var b [1]byte
	if _, err := f.ReadAt(b[:], 60); err != nil {
		t.Fatalf("读取字节失败: %v", err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b[:], 60); err != nil {
		t.Fatalf("写回字节失败: %v", err)
	}
	f.Close()

	_, err = Open(path, "p", true, fastOptions())
	kind := KindOf(err)
	if kind != KindPassword && kind != KindCorrupted {
		t.Fatalf("篡改头部后应返回 Password 或 Corrupted，实际: %v", err)
	}
}

func TestTruncateIdempotence(t *testing.T) {
	path := tempPath(t)

	c, err := Create(path, "p", KeySize256, fastOptions())
	if err != nil {
		t.Fatalf("创建容器失败: %v", err)
	}
	defer c.Close()

	if err := c.Write(bytes.Repeat([]byte{0xAB}, 2000)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := c.Truncate(777); err != nil {
		t.Fatalf("第一次 truncate 失败: %v", err)
	}
	if c.Size() != 777 {
		t.Fatalf("size 为 %d，期望 777", c.Size())
	}
	if err := c.Truncate(777); err != nil {
		t.Fatalf("第二次 truncate（应为空操作）失败: %v", err)
	}
	if c.Size() != 777 {
		t.Fatalf("size 为 %d，期望 777", c.Size())
	}
}

func TestShrinkThenGrowZeroing(t *testing.T) {
	path := tempPath(t)

	c, err := Create(path, "p", KeySize256, fastOptions())
	if err != nil {
		t.Fatalf("创建容器失败: %v", err)
	}
	defer c.Close()

	if err := c.Write(bytes.Repeat([]byte{0xCD}, 5000)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := c.Truncate(100); err != nil {
		t.Fatalf("缩小失败: %v", err)
	}
	if err := c.Truncate(4000); err != nil {
		t.Fatalf("放大失败: %v", err)
	}

	if _, err := c.Seek(100, SeekStart); err != nil {
		t.Fatalf("seek 失败: %v", err)
	}
	buf := make([]byte, 3900)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if n != 3900 {
		t.Fatalf("读取到 %d 字节，期望 3900", n)
	}
	if !bytes.Equal(buf, make([]byte, 3900)) {
		t.Fatalf("[100, 4000) 区间应全部读回零字节")
	}
}

func TestDataSectorBitFlipDoesNotCorruptNeighborSectors(t *testing.T) {
	path := tempPath(t)

	c, err := Create(path, "p", KeySize256, fastOptions())
	if err != nil {
		t.Fatalf("创建容器失败: %v", err)
	}
	before := bytes.Repeat([]byte{0x11}, 256)
	middle := bytes.Repeat([]byte{0x22}, 256)
	after := bytes.Repeat([]byte{0x33}, 256)
	if err := c.Write(append(append(append([]byte{}, before...), middle...), after...)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("打开底层文件失败: %v", err)
	}
	middleSectorOffset := int64(config.DataOffset) + 256
	var b [1]byte
	if _, err := f.ReadAt(b[:], middleSectorOffset); err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b[:], middleSectorOffset); err != nil {
		t.Fatalf("写回失败: %v", err)
	}
	f.Close()

	reopened, err := Open(path, "p", true, fastOptions())
	if err != nil {
		t.Fatalf("重新打开失败: %v", err)
	}
	defer reopened.Close()

	buf := make([]byte, 768)
	if _, err := reopened.Read(buf); err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if !bytes.Equal(buf[:256], before) {
		t.Fatalf("篡改扇区之前的扇区不应受影响")
	}
	if !bytes.Equal(buf[512:], after) {
		t.Fatalf("篡改扇区之后的扇区不应受影响")
	}
	if bytes.Equal(buf[256:512], middle) {
		t.Fatalf("被篡改的扇区解密结果不应恰好等于原始明文")
	}
}

func randIntn(t *testing.T, n int) int {
	t.Helper()
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		t.Fatalf("生成随机数失败: %v", err)
	}
	return int(v.Int64())
}
