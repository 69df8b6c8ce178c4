// Package securealloc 提供页对齐、页锁定的字节分配，供容器存放密钥材料和
// 明文缓存窗口使用，防止这些内容被换出到交换区。
package securealloc

import "fmt"

// Block 是一块页锁定内存，Bytes() 暴露底层切片供调用方读写。
// 调用方必须在用完后调用 Free，以便清零、解锁并释放内存。
type Block struct {
	buf    []byte
	locked bool
}

// New 分配一块至少 size 字节、按系统页大小取整并页锁定的内存。
// 平台不支持页锁定时返回 error（调用方应将其映射为 KindMemory）。
func New(size int) (*Block, error) {
	if size <= 0 {
		return nil, fmt.Errorf("securealloc: size must be positive, got %d", size)
	}

	aligned := roundUpToPage(size)
	buf := make([]byte, aligned)

	if err := lock(buf); err != nil {
		return nil, fmt.Errorf("securealloc: page lock failed: %w", err)
	}

	return &Block{buf: buf, locked: true}, nil
}

// Bytes 返回底层缓冲区（长度可能大于请求的 size，经过页对齐）。
func (b *Block) Bytes() []byte {
	return b.buf
}

// Free 清零整个分配区域，解除页锁定并释放内存。可安全重复调用。
func (b *Block) Free() {
	if b.buf == nil {
		return
	}
	for i := range b.buf {
		b.buf[i] = 0
	}
	if b.locked {
		_ = unlock(b.buf)
		b.locked = false
	}
	b.buf = nil
}

func roundUpToPage(n int) int {
	ps := pageSize()
	if n%ps == 0 {
		return n
	}
	return (n/ps + 1) * ps
}
