package cryptofile

import (
	"github.com/bpfs/cryptofile/config"
)

// cacheWindow 是容器唯一的可变扇区缓存：任意时刻至多有一个扇区对齐的窗口的
// 明文驻留在内存里，所有字节粒度的读写都先把目标位置纳入这个窗口。
type cacheWindow struct {
	clear  []byte // 固定长度 config.CacheWindowSize，来自 Container 的页锁定分配
	loaded bool
	offset uint64 // 窗口覆盖的数据区起始偏移，恒为扇区对齐
	size   uint64 // 窗口当前有效长度（<= CacheWindowSize）
	dirty  bool
}

// prepareRead 确保缓存窗口覆盖 currentOffset，必要时先落盘当前脏窗口再从
// 磁盘读入新窗口；超出物理数据区的部分保持为零（逻辑文件尾部的隐式空洞）。
func (c *Container) prepareRead(currentOffset uint64) error {
	if c.cache.loaded && currentOffset >= c.cache.offset && currentOffset < c.cache.offset+c.cache.size {
		return nil
	}
	if err := c.flushCache(); err != nil {
		return err
	}

	aligned := roundDown(currentOffset, config.SectorSize)
	var size uint64
	if aligned < c.fileDataLen {
		size = config.CacheWindowSize
		if remain := c.fileDataLen - aligned; remain < size {
			size = remain
		}
	}

	for i := range c.cache.clear {
		c.cache.clear[i] = 0
	}
	if size > 0 {
		if err := decryptSectorsRaw(c.file, c.cipherCtx, aligned, c.cache.clear[:size]); err != nil {
			c.cache.loaded = true
			c.cache.offset = aligned
			c.cache.size = 0
			c.cache.dirty = false
			return newErr("read", KindCrypto, err)
		}
	}

	c.cache.offset = aligned
	c.cache.size = size
	c.cache.loaded = true
	c.cache.dirty = false
	return nil
}

// prepareWrite 确保缓存窗口可以接受从 currentOffset 开始的写入。如果
// currentOffset 落在窗口尾部之外的第一个扇区中间（prefix > 0），该扇区先
// 被读出解密，实现部分扇区的读改写。
func (c *Container) prepareWrite(currentOffset uint64) error {
	if c.cache.loaded && currentOffset >= c.cache.offset && currentOffset <= c.cache.offset+c.cache.size &&
		c.cache.size < config.CacheWindowSize {
		return nil
	}
	if err := c.flushCache(); err != nil {
		return err
	}

	aligned := roundDown(currentOffset, config.SectorSize)
	prefix := currentOffset - aligned

	for i := range c.cache.clear {
		c.cache.clear[i] = 0
	}

	if prefix > 0 {
		if aligned+config.SectorSize <= c.fileDataLen {
			sector := c.cache.clear[:config.SectorSize]
			if err := decryptSectorsRaw(c.file, c.cipherCtx, aligned, sector); err != nil {
				return newErr("write", KindCrypto, err)
			}
		}
		c.cache.size = config.SectorSize
	} else {
		c.cache.size = 0
	}

	c.cache.offset = aligned
	c.cache.loaded = true
	c.cache.dirty = false
	return nil
}

// flushCache 把当前脏窗口加密写回磁盘。窗口被拆成整扇区部分和最多一个部分
// 扇区的尾部；尾部扇区必须先读出解密、叠加新字节，再整体加密，绝不能把
// 半个扇区直接写到磁盘上。写入前调用 fillGapTo 确保物理区域连续。
func (c *Container) flushCache() error {
	if !c.cache.loaded || !c.cache.dirty || c.cache.size == 0 {
		c.cache.dirty = false
		return nil
	}

	inner := roundDown(c.cache.size, config.SectorSize)
	suffix := c.cache.size - inner

	assembledLen := inner
	if suffix > 0 {
		assembledLen += config.SectorSize
	}
	assembled := make([]byte, assembledLen)
	copy(assembled[:inner], c.cache.clear[:inner])

	if suffix > 0 {
		tailSector := assembled[inner : inner+config.SectorSize]
		tailOffset := c.cache.offset + inner
		if tailOffset+config.SectorSize <= c.fileDataLen {
			if err := decryptSectorsRaw(c.file, c.cipherCtx, tailOffset, tailSector); err != nil {
				return newErr("write", KindCrypto, err)
			}
		}
		copy(tailSector, c.cache.clear[inner:c.cache.size])
	}

	if err := c.fillGapTo(c.cache.offset); err != nil {
		return err
	}
	if err := encryptAndWriteSectorsRaw(c.file, c.cipherCtx, c.cache.offset, assembled); err != nil {
		return newErr("write", KindIO, err)
	}

	if written := c.cache.offset + uint64(len(assembled)); written > c.fileDataLen {
		c.fileDataLen = written
	}
	c.cache.dirty = false
	return nil
}

func roundUp(n, multiple uint64) uint64 {
	if multiple == 0 {
		return n
	}
	if r := n % multiple; r != 0 {
		return n + (multiple - r)
	}
	return n
}

func roundDown(n, multiple uint64) uint64 {
	if multiple == 0 {
		return n
	}
	return n - n%multiple
}
