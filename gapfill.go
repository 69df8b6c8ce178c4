package cryptofile

import "github.com/bpfs/cryptofile/config"

// fillGapTo 确保数据区物理上至少覆盖到 target 字节处（target 必须是扇区
// 对齐的），方法是把 [fileDataLen, target) 内尚不存在的扇区加密为全零扇区
// 并写入磁盘。这让后续的窗口写入总能假设物理区域是连续的。
func (c *Container) fillGapTo(target uint64) error {
	if target <= c.fileDataLen {
		return nil
	}

	const chunk = config.CacheWindowSize
	zeros := make([]byte, chunk)
	for c.fileDataLen < target {
		n := target - c.fileDataLen
		if n > chunk {
			n = chunk
		}
		if err := encryptAndWriteSectorsRaw(c.file, c.cipherCtx, c.fileDataLen, zeros[:n]); err != nil {
			return newErr("write", KindIO, err)
		}
		// encryptAndWriteSectorsRaw 原地把 zeros 前 n 字节加密为密文，下一轮
		// 需要重新清零再使用。
		for i := 0; i < int(n); i++ {
			zeros[i] = 0
		}
		c.fileDataLen += n
	}
	return nil
}
