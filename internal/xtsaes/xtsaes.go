// Package xtsaes 实现本容器格式所需的 XTS-AES 扇区级加解密。
//
// 标准 XTS（IEEE P1619）将扇区号编码为小端 128 位值，再用第二把密钥加密得到
// tweak。本格式的 tweak 构造是该实现特有的：把扇区号的大端 64 位表示和小端
// 64 位表示拼接成 16 字节缓冲区，再交给第二把密钥加密。为了与既有磁盘文件
// 保持逐位兼容，这个构造必须原样保留，因此不能直接复用 golang.org/x/crypto/xts
// （其 tweak 编码是固定的标准小端格式，没有开放给调用方自定义的入口）。
//
// 算法本体（GF(2^128) 下的 tweak 倍乘、逐块异或）沿用标准 XTS 的做法。
package xtsaes

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

const blockSize = aes.BlockSize // 16

// Cipher 持有一对经 AES 展开的密钥：k1 用于数据分组，k2 用于 tweak。
type Cipher struct {
	k1, k2     cipher.Block
	sectorSize int
}

// New 基于数据密钥、tweak 密钥和扇区大小构造一个 Cipher。
// keySize 必须是 16、24 或 32（AES-128/192/256），sectorSize 必须是
// blockSize 的正整数倍。
func New(dataKey, tweakKey []byte, sectorSize int) (*Cipher, error) {
	if len(dataKey) != len(tweakKey) {
		return nil, fmt.Errorf("xtsaes: data key and tweak key length mismatch (%d != %d)", len(dataKey), len(tweakKey))
	}
	if sectorSize <= 0 || sectorSize%blockSize != 0 {
		return nil, fmt.Errorf("xtsaes: sector size %d is not a positive multiple of %d", sectorSize, blockSize)
	}

	k1, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("xtsaes: data cipher: %w", err)
	}
	k2, err := aes.NewCipher(tweakKey)
	if err != nil {
		return nil, fmt.Errorf("xtsaes: tweak cipher: %w", err)
	}

	return &Cipher{k1: k1, k2: k2, sectorSize: sectorSize}, nil
}

// SectorSize 返回该 Cipher 处理的扇区字节数。
func (c *Cipher) SectorSize() int {
	return c.sectorSize
}

// sectorTweak 生成扇区号的原始 tweak 输入：前 8 字节大端，后 8 字节小端。
// 这是本格式的既定做法，必须逐位复现才能兼容既有文件。
func sectorTweak(sectorNum uint64) [blockSize]byte {
	var raw [blockSize]byte
	binary.BigEndian.PutUint64(raw[:8], sectorNum)
	binary.LittleEndian.PutUint64(raw[8:], sectorNum)
	return raw
}

// mul2 在 GF(2^128) 中以不可约多项式 x^128+x^7+x^2+x+1 将 tweak 乘以 2。
func mul2(tweak *[blockSize]byte) {
	var carryIn byte
	for j := range tweak {
		carryOut := tweak[j] >> 7
		tweak[j] = (tweak[j] << 1) + carryIn
		carryIn = carryOut
	}
	if carryIn != 0 {
		tweak[0] ^= 1<<7 | 1<<2 | 1<<1 | 1
	}
}

// EncryptSector 原地加密恰好一个扇区。
func (c *Cipher) EncryptSector(sector []byte, sectorNum uint64) error {
	if len(sector) != c.sectorSize {
		return fmt.Errorf("xtsaes: sector length %d != sector size %d", len(sector), c.sectorSize)
	}

	tweak := sectorTweak(sectorNum)
	c.k2.Encrypt(tweak[:], tweak[:])

	for i := 0; i < len(sector); i += blockSize {
		block := sector[i : i+blockSize]
		for j := 0; j < blockSize; j++ {
			block[j] ^= tweak[j]
		}
		c.k1.Encrypt(block, block)
		for j := 0; j < blockSize; j++ {
			block[j] ^= tweak[j]
		}
		mul2(&tweak)
	}
	return nil
}

// DecryptSector 原地解密恰好一个扇区。
func (c *Cipher) DecryptSector(sector []byte, sectorNum uint64) error {
	if len(sector) != c.sectorSize {
		return fmt.Errorf("xtsaes: sector length %d != sector size %d", len(sector), c.sectorSize)
	}

	tweak := sectorTweak(sectorNum)
	c.k2.Encrypt(tweak[:], tweak[:])

	for i := 0; i < len(sector); i += blockSize {
		block := sector[i : i+blockSize]
		for j := 0; j < blockSize; j++ {
			block[j] ^= tweak[j]
		}
		c.k1.Decrypt(block, block)
		for j := 0; j < blockSize; j++ {
			block[j] ^= tweak[j]
		}
		mul2(&tweak)
	}
	return nil
}
