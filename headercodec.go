package cryptofile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/bpfs/cryptofile/config"
	"github.com/bpfs/cryptofile/crypto/cbc"
)

// prefixOnDisk 是明文前缀的磁盘布局，逐字段小端序写入，不含任何隐式填充。
//
// 字段清单 (4+1+1+16+4+16) 相加为 42 字节，与 C 版本中
// __attribute__((packed)) 的 SMCryptoFilePrefix 的 sizeof() 一致，数据区
// 偏移量相应地是 42+80=122。
type prefixOnDisk struct {
	Magic          uint32
	Version        uint8
	KeySize        uint8
	PasswordSalt   [config.SaltSize]byte
	PasswordRounds uint32
	HeaderIV       [config.IVSize]byte
}

// headerPlain 是头部明文的磁盘布局（恰好 80 字节 = 5 个 AES 分组）。
type headerPlain struct {
	Check   uint32
	CRC32   uint32
	DataLen uint64
	XTSKey  [config.XTSKeySize]byte
	XTSTweak [config.XTSTweakSize]byte
}

func encodePrefix(p *prefixOnDisk) []byte {
	buf := new(bytes.Buffer)
	// 错误只可能来自 Write 本身对不可写 io.Writer 的拒绝，bytes.Buffer 不会失败
	_ = binary.Write(buf, binary.LittleEndian, p)
	return buf.Bytes()
}

func decodePrefix(data []byte) (*prefixOnDisk, error) {
	if len(data) != config.PrefixSize {
		return nil, fmt.Errorf("headercodec: 前缀长度 %d 与期望的 %d 不符", len(data), config.PrefixSize)
	}
	var p prefixOnDisk
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &p); err != nil {
		return nil, fmt.Errorf("headercodec: 解析前缀失败: %w", err)
	}
	return &p, nil
}

func encodeHeaderPlain(h *headerPlain) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

func decodeHeaderPlain(data []byte) (*headerPlain, error) {
	if len(data) != config.HeaderPlainSize {
		return nil, fmt.Errorf("headercodec: 头部明文长度 %d 与期望的 %d 不符", len(data), config.HeaderPlainSize)
	}
	var h headerPlain
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("headercodec: 解析头部失败: %w", err)
	}
	return &h, nil
}

// headerCRC32 计算 xtsKey‖xtsTweak 的 CRC32（IEEE 多项式），用于检测头部
// 密钥材料的位损坏。hash/crc32 的 IEEE 表就是这里所需的"表驱动 CRC32"，
// 没有必要为此引入第三方库。
func headerCRC32(xtsKey, xtsTweak []byte) uint32 {
	crc := crc32.NewIEEE()
	crc.Write(xtsKey)
	crc.Write(xtsTweak)
	return crc.Sum32()
}

// encryptHeader 将头部明文用 AES-CBC（无填充）加密，使用前缀中的 headerIV。
func encryptHeader(h *headerPlain, headerKey, headerIV []byte) ([]byte, error) {
	plain := encodeHeaderPlain(h)
	cipherBytes, err := cbc.EncryptNoPad(headerKey, headerIV, plain)
	if err != nil {
		return nil, fmt.Errorf("headercodec: 加密头部失败: %w", err)
	}
	return cipherBytes, nil
}

// decryptHeader 解密头部密文，返回解析后的头部明文结构体。
func decryptHeader(cipherBytes, headerKey, headerIV []byte) (*headerPlain, error) {
	plain, err := cbc.DecryptNoPad(headerKey, headerIV, cipherBytes)
	if err != nil {
		return nil, fmt.Errorf("headercodec: 解密头部失败: %w", err)
	}
	return decodeHeaderPlain(plain)
}
