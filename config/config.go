// Package config 定义容器磁盘格式相关的常量。
package config

// 容器磁盘格式
const (
	// PrefixMagic 是明文前缀的魔数，出现在每个容器文件的偏移 0 处
	PrefixMagic uint32 = 0xC3160FF4
	// PrefixVersion 是当前支持的前缀版本号
	PrefixVersion uint8 = 1
	// HeaderCheckMagic 是头部明文中的密码正确性探针
	HeaderCheckMagic uint32 = 0xB4D9E5AC

	// SaltSize 是密码盐的长度（字节）
	SaltSize = 16
	// IVSize 是头部 IV 的长度（字节），同时也是 AES 分组大小
	IVSize = 16
	// PrefixSize 是打包后前缀结构体的字节数
	PrefixSize = 4 + 1 + 1 + SaltSize + 4 + IVSize // 42
	// HeaderPlainSize 是头部明文的字节数（5 个 AES 分组）
	HeaderPlainSize = 80
	// XTSKeySize 和 XTSTweakSize 是头部中两把数据密钥的长度，总是 32 字节
	XTSKeySize   = 32
	XTSTweakSize = 32

	// SectorSize 是一个 XTS 扇区的字节数
	SectorSize = 256
	// CacheWindowSize 是单个缓存窗口覆盖的字节数（16 个扇区）
	CacheWindowSize = 4096
	// SectorsPerCache 是一个缓存窗口包含的扇区数
	SectorsPerCache = CacheWindowSize / SectorSize

	// DataOffset 是数据区在磁盘文件中的起始偏移量
	DataOffset = PrefixSize + HeaderPlainSize // 122
)

// DefaultKDFTargetMillis 是轮数校准的目标 CPU 耗时（毫秒）
const DefaultKDFTargetMillis = 100
