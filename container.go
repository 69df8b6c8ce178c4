// Package cryptofile 实现一个随机存取的加密文件容器：POSIX 风格的
// create/open/read/write/seek/truncate/flush/close API，底层以 AES-XTS
// 按 256 字节扇区加密存储，头部以 AES-CBC 加密并受 PBKDF2 派生密钥保护。
package cryptofile

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bpfs/cryptofile/config"
	"github.com/bpfs/cryptofile/internal/obslog"
	"github.com/bpfs/cryptofile/internal/securealloc"
	"github.com/bpfs/cryptofile/internal/tempname"
	"github.com/bpfs/cryptofile/internal/xtsaes"
	"github.com/sirupsen/logrus"
)

// Whence 取值与 io.Seeker 保持一致，允许调用方直接传 io.SeekStart 等常量。
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// SyncMode 控制 Flush 落盘的强度。
type SyncMode int

const (
	// SyncNo 只落盘内存缓存和头部，不调用任何系统同步调用
	SyncNo SyncMode = iota
	// SyncNormal 额外调用 POSIX fsync
	SyncNormal
	// SyncFull 请求平台提供的"完全同步"（如 darwin 的 F_FULLFSYNC），
	// 平台不支持时退化为 SyncNormal
	SyncFull
)

// containerCipher 持有某个容器当前有效的 XTS cipher。加密和解密走同一个
// *xtsaes.Cipher 实例，拆成两个字段只是为了让调用处望文知意。
type containerCipher struct {
	enc *xtsaes.Cipher
	dec *xtsaes.Cipher
}

func newContainerCipher(xtsKey, xtsTweak []byte) (*containerCipher, error) {
	cph, err := xtsaes.New(xtsKey, xtsTweak, config.SectorSize)
	if err != nil {
		return nil, err
	}
	return &containerCipher{enc: cph, dec: cph}, nil
}

// Container 是一个已打开的加密随机存取文件容器。它是单线程、单写者对象：
// 除 CreateImpersonated 只读取源容器的不可变字段之外，不提供也不需要内部
// 锁，调用方必须自行保证同一容器上的操作串行执行。
type Container struct {
	file     *os.File
	path     string
	readOnly bool

	prefix      prefixOnDisk
	header      headerPlain
	headerDirty bool

	// secure 是一块页对齐、页锁定的内存，headerKey/xtsKey/xtsTweak/cache.clear
	// 都是指向它的切片，确保密钥材料和明文缓存窗口不会被换出到交换区。
	secure    *securealloc.Block
	headerKey []byte
	xtsKey    []byte
	xtsTweak  []byte

	cipherCtx *containerCipher

	fileDataLen uint64 // 数据区物理长度（字节），恒为 SectorSize 的整数倍
	position    uint64 // 当前读写游标

	cache cacheWindow

	logger          *logrus.Logger
	kdfTargetMillis int
}

// newContainer 分配一个尚未绑定文件的 Container，headerKeyLen 决定页锁定
// 分配中 headerKey 切片的长度（16/24/32，取决于 KeySize）。
func newContainer(headerKeyLen int, logger *logrus.Logger) (*Container, error) {
	size := headerKeyLen + config.XTSKeySize + config.XTSTweakSize + config.CacheWindowSize
	block, err := securealloc.New(size)
	if err != nil {
		return nil, newErr("create", KindMemory, err)
	}

	buf := block.Bytes()
	offset := 0
	c := &Container{secure: block, logger: logger}
	c.headerKey = buf[offset : offset+headerKeyLen]
	offset += headerKeyLen
	c.xtsKey = buf[offset : offset+config.XTSKeySize]
	offset += config.XTSKeySize
	c.xtsTweak = buf[offset : offset+config.XTSTweakSize]
	offset += config.XTSTweakSize
	c.cache.clear = buf[offset : offset+config.CacheWindowSize]

	return c, nil
}

func randomFill(dst []byte, op string) error {
	if _, err := rand.Read(dst); err != nil {
		return newErr(op, KindCrypto, err)
	}
	return nil
}

// finalizeNewContainer 生成一对随机的 xtsKey/xtsTweak，组装头部明文并把
// 前缀与加密后的头部写入磁盘。调用前 c.prefix（含 headerIV）与 c.headerKey
// 必须已经就绪。
//
// xtsKey/xtsTweak 在磁盘上恒为 32 字节（headerPlain 的固定字段），但实际参与
// XTS 加解密的密钥长度由 keySize 决定（16/24/32，与 headerKey 长度相同）：
// 只有每个字段的前 dataKeyLen 字节被当作 AES 密钥使用，其余字节仍然写入磁盘
// 但从不参与加解密。
func (c *Container) finalizeNewContainer(op string) error {
	if err := randomFill(c.xtsKey, op); err != nil {
		return err
	}
	if err := randomFill(c.xtsTweak, op); err != nil {
		return err
	}

	c.header = headerPlain{Check: config.HeaderCheckMagic}
	copy(c.header.XTSKey[:], c.xtsKey)
	copy(c.header.XTSTweak[:], c.xtsTweak)
	c.header.CRC32 = headerCRC32(c.header.XTSKey[:], c.header.XTSTweak[:])

	dataKeyLen := len(c.headerKey)
	cph, err := newContainerCipher(c.xtsKey[:dataKeyLen], c.xtsTweak[:dataKeyLen])
	if err != nil {
		return newErr(op, KindCrypto, err)
	}
	c.cipherCtx = cph
	c.fileDataLen = 0

	return c.writePrefixAndHeader(op)
}

func (c *Container) writePrefixAndHeader(op string) error {
	if _, err := c.file.WriteAt(encodePrefix(&c.prefix), 0); err != nil {
		return newErr(op, KindIO, err)
	}
	cipherBytes, err := encryptHeader(&c.header, c.headerKey, c.prefix.HeaderIV[:])
	if err != nil {
		return newErr(op, KindCrypto, err)
	}
	if _, err := c.file.WriteAt(cipherBytes, int64(config.PrefixSize)); err != nil {
		return newErr(op, KindIO, err)
	}
	return nil
}

func (c *Container) flushHeader() error {
	if !c.headerDirty {
		return nil
	}
	c.header.CRC32 = headerCRC32(c.header.XTSKey[:], c.header.XTSTweak[:])
	cipherBytes, err := encryptHeader(&c.header, c.headerKey, c.prefix.HeaderIV[:])
	if err != nil {
		return newErr("flush", KindCrypto, err)
	}
	if _, err := c.file.WriteAt(cipherBytes, int64(config.PrefixSize)); err != nil {
		return newErr("flush", KindIO, err)
	}
	c.headerDirty = false
	return nil
}

// Create 创建一个新容器文件，path 必须尚不存在。
func Create(path, password string, keySize KeySize, opts ...Option) (*Container, error) {
	const op = "create"
	options := DefaultOptions()
	if err := options.ApplyOptions(opts...); err != nil {
		return nil, newErr(op, KindArguments, err)
	}
	if path == "" || password == "" {
		return nil, newErr(op, KindArguments, fmt.Errorf("path 和 password 不能为空"))
	}
	keyLen := keySize.bytes()
	if keyLen == 0 {
		return nil, newErr(op, KindArguments, fmt.Errorf("未知的 keySize %d", keySize))
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, newErr(op, KindIO, err)
	}

	c, err := newContainer(keyLen, options.logger)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	c.file = file
	c.path = path
	c.kdfTargetMillis = options.kdfTargetMillis

	if err := c.initializeFresh(password, keySize, keyLen, op); err != nil {
		c.secure.Free()
		file.Close()
		os.Remove(path)
		return nil, err
	}

	obslog.Infof(c.logger, "已创建容器 %s", path)
	return c, nil
}

func (c *Container) initializeFresh(password string, keySize KeySize, keyLen int, op string) error {
	c.prefix = prefixOnDisk{Magic: config.PrefixMagic, Version: config.PrefixVersion, KeySize: uint8(keySize)}
	if err := randomFill(c.prefix.PasswordSalt[:], op); err != nil {
		return err
	}
	if err := randomFill(c.prefix.HeaderIV[:], op); err != nil {
		return err
	}

	target := time.Duration(c.kdfTargetMillis) * time.Millisecond
	rounds := calibrateRounds(keyLen, target)
	if rounds == 0 {
		return newErr(op, KindCrypto, fmt.Errorf("PBKDF2 轮数校准失败"))
	}
	c.prefix.PasswordRounds = rounds

	copy(c.headerKey, deriveHeaderKey(password, c.prefix.PasswordSalt[:], rounds, keyLen))

	return c.finalizeNewContainer(op)
}

// CreateVolatile 创建一个无密码的易失性容器：头部密钥直接随机生成，不经过
// PBKDF2。若 path 为空字符串，会生成一个唯一的临时路径，并在打开后立即
// unlink（POSIX 语义下文件描述符仍然有效，直到 Close 才真正释放磁盘空间）。
func CreateVolatile(path string, keySize KeySize, opts ...Option) (*Container, error) {
	const op = "createVolatile"
	options := DefaultOptions()
	if err := options.ApplyOptions(opts...); err != nil {
		return nil, newErr(op, KindArguments, err)
	}
	keyLen := keySize.bytes()
	if keyLen == 0 {
		return nil, newErr(op, KindArguments, fmt.Errorf("未知的 keySize %d", keySize))
	}

	deleteOnOpen := path == ""
	if deleteOnOpen {
		generated, err := tempname.Generate()
		if err != nil {
			return nil, newErr(op, KindIO, err)
		}
		path = generated
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, newErr(op, KindIO, err)
	}
	if deleteOnOpen {
		if err := os.Remove(path); err != nil {
			file.Close()
			return nil, newErr(op, KindIO, err)
		}
	}

	c, err := newContainer(keyLen, options.logger)
	if err != nil {
		file.Close()
		if !deleteOnOpen {
			os.Remove(path)
		}
		return nil, err
	}
	c.file = file
	c.path = path
	c.kdfTargetMillis = options.kdfTargetMillis

	c.prefix = prefixOnDisk{Magic: config.PrefixMagic, Version: config.PrefixVersion, KeySize: uint8(keySize)}
	// passwordSalt 和 passwordRounds 保持零值：这个容器的密钥不是从密码派生的。
	if err := randomFill(c.prefix.HeaderIV[:], op); err != nil {
		c.secure.Free()
		file.Close()
		if !deleteOnOpen {
			os.Remove(path)
		}
		return nil, err
	}
	if err := randomFill(c.headerKey, op); err != nil {
		c.secure.Free()
		file.Close()
		if !deleteOnOpen {
			os.Remove(path)
		}
		return nil, err
	}

	if err := c.finalizeNewContainer(op); err != nil {
		c.secure.Free()
		file.Close()
		if !deleteOnOpen {
			os.Remove(path)
		}
		return nil, err
	}

	obslog.Infof(c.logger, "已创建易失性容器 %s", path)
	return c, nil
}

// CreateImpersonated 基于 source 的前缀和头部密钥创建一个新容器：新容器可
// 用与 source 相同的密码打开，但拥有全新的随机数据密钥。只读取 source 的
// prefix 和 headerKey（构造完成后只读的字段），因此可以与 source 上正在
// 进行的 I/O 并发调用。
func CreateImpersonated(source *Container, path string, opts ...Option) (*Container, error) {
	const op = "createImpersonated"
	options := DefaultOptions()
	if err := options.ApplyOptions(opts...); err != nil {
		return nil, newErr(op, KindArguments, err)
	}
	if source == nil || path == "" {
		return nil, newErr(op, KindArguments, fmt.Errorf("source 和 path 不能为空"))
	}
	keyLen := len(source.headerKey)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, newErr(op, KindIO, err)
	}

	c, err := newContainer(keyLen, options.logger)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	c.file = file
	c.path = path
	c.kdfTargetMillis = options.kdfTargetMillis

	c.prefix = source.prefix
	copy(c.headerKey, source.headerKey)

	if err := c.finalizeNewContainer(op); err != nil {
		c.secure.Free()
		file.Close()
		os.Remove(path)
		return nil, err
	}

	obslog.Infof(c.logger, "已创建模拟容器 %s（基于 %s）", path, source.path)
	return c, nil
}

// Open 打开一个既有容器文件。readOnly 为 true 时拒绝一切写操作。
func Open(path, password string, readOnly bool, opts ...Option) (*Container, error) {
	const op = "open"
	options := DefaultOptions()
	if err := options.ApplyOptions(opts...); err != nil {
		return nil, newErr(op, KindArguments, err)
	}
	if path == "" {
		return nil, newErr(op, KindArguments, fmt.Errorf("path 不能为空"))
	}

	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, newErr(op, KindIO, err)
	}

	prefixBytes := make([]byte, config.PrefixSize)
	if _, err := file.ReadAt(prefixBytes, 0); err != nil {
		file.Close()
		return nil, newErr(op, KindIO, err)
	}
	prefix, err := decodePrefix(prefixBytes)
	if err != nil {
		file.Close()
		return nil, newErr(op, KindFormat, err)
	}
	if prefix.Magic != config.PrefixMagic {
		file.Close()
		return nil, newErr(op, KindFormat, fmt.Errorf("魔数不匹配"))
	}
	if prefix.Version != config.PrefixVersion {
		file.Close()
		return nil, newErr(op, KindVersion, fmt.Errorf("不支持的版本号 %d", prefix.Version))
	}
	keyLen := KeySize(prefix.KeySize).bytes()
	if keyLen == 0 {
		file.Close()
		return nil, newErr(op, KindArguments, fmt.Errorf("未知的 keySize %d", prefix.KeySize))
	}

	c, err := newContainer(keyLen, options.logger)
	if err != nil {
		file.Close()
		return nil, err
	}
	c.file = file
	c.path = path
	c.readOnly = readOnly
	c.kdfTargetMillis = options.kdfTargetMillis
	c.prefix = *prefix

	copy(c.headerKey, deriveHeaderKey(password, prefix.PasswordSalt[:], prefix.PasswordRounds, keyLen))

	headerCipherBytes := make([]byte, config.HeaderPlainSize)
	if _, err := file.ReadAt(headerCipherBytes, int64(config.PrefixSize)); err != nil {
		c.secure.Free()
		file.Close()
		return nil, newErr(op, KindIO, err)
	}
	header, err := decryptHeader(headerCipherBytes, c.headerKey, prefix.HeaderIV[:])
	if err != nil {
		c.secure.Free()
		file.Close()
		return nil, newErr(op, KindCrypto, err)
	}
	if header.Check != config.HeaderCheckMagic {
		c.secure.Free()
		file.Close()
		return nil, newErr(op, KindPassword, fmt.Errorf("密码校验失败"))
	}
	if headerCRC32(header.XTSKey[:], header.XTSTweak[:]) != header.CRC32 {
		c.secure.Free()
		file.Close()
		return nil, newErr(op, KindCorrupted, fmt.Errorf("头部 CRC32 校验失败"))
	}

	copy(c.xtsKey, header.XTSKey[:])
	copy(c.xtsTweak, header.XTSTweak[:])
	c.header = *header

	cph, err := newContainerCipher(c.xtsKey[:keyLen], c.xtsTweak[:keyLen])
	if err != nil {
		c.secure.Free()
		file.Close()
		return nil, newErr(op, KindCrypto, err)
	}
	c.cipherCtx = cph
	c.fileDataLen = roundUp(header.DataLen, config.SectorSize)

	obslog.Infof(c.logger, "已打开容器 %s", path)
	return c, nil
}

// CanOpen 是一个不修改任何状态的探测：它只检查前缀魔数是否存在且文件长度
// 足以容纳头部密文，从不解密任何内容。任何 I/O 失败或魔数不符都返回 false，
// 不向调用方报告具体原因。
func CanOpen(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	prefixBytes := make([]byte, config.PrefixSize)
	if _, err := file.ReadAt(prefixBytes, 0); err != nil {
		return false
	}
	prefix, err := decodePrefix(prefixBytes)
	if err != nil {
		return false
	}
	if prefix.Magic != config.PrefixMagic {
		return false
	}

	headerBytes := make([]byte, config.HeaderPlainSize)
	if _, err := file.ReadAt(headerBytes, int64(config.PrefixSize)); err != nil {
		return false
	}
	return true
}

// Size 返回容器的逻辑长度（header.dataLen）。
func (c *Container) Size() uint64 { return c.header.DataLen }

// Tell 返回当前读写游标位置。
func (c *Container) Tell() uint64 { return c.position }

// Seek 按 whence 调整游标，返回调整后的位置。
func (c *Container) Seek(offset int64, whence int) (uint64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(c.position)
	case io.SeekEnd:
		base = int64(c.header.DataLen)
	default:
		return c.position, newErr("seek", KindArguments, fmt.Errorf("未知的 whence 值 %d", whence))
	}

	result := base + offset
	if offset > 0 && result < base {
		return c.position, newErr("seek", KindArguments, fmt.Errorf("seek 计算发生有符号溢出"))
	}
	if result < 0 {
		return c.position, newErr("seek", KindArguments, fmt.Errorf("seek 结果为负"))
	}

	c.position = uint64(result)
	return c.position, nil
}

// Read 最多读取 len(p) 字节到 p，返回实际读取的字节数。到达文件末尾返回
// (0, nil)；失败时返回 (-1, err) 并把游标恢复到调用前的位置。
func (c *Container) Read(p []byte) (int64, error) {
	var remaining int64
	if c.header.DataLen > c.position {
		remaining = int64(c.header.DataLen - c.position)
	}
	want := int64(len(p))
	if want > remaining {
		want = remaining
	}
	if want <= 0 {
		return 0, nil
	}

	saved := c.position
	var n int64
	for n < want {
		if err := c.prepareRead(c.position); err != nil {
			c.position = saved
			return -1, err
		}

		winOff := c.position - c.cache.offset
		avail := c.cache.size - winOff
		if avail == 0 {
			c.position = saved
			return -1, newErr("read", KindUnknown, fmt.Errorf("缓存窗口未覆盖请求的偏移"))
		}

		toCopy := want - n
		if uint64(toCopy) > avail {
			toCopy = int64(avail)
		}
		copy(p[n:n+toCopy], c.cache.clear[winOff:winOff+uint64(toCopy)])
		n += toCopy
		c.position += uint64(toCopy)
	}
	return n, nil
}

// Write 把 p 写入从当前游标开始的位置，推进游标，并在越过当前逻辑末尾时
// 延迟标记头部为脏（实际落盘由 Flush/Close 完成）。
func (c *Container) Write(p []byte) error {
	if c.readOnly {
		return newErr("write", KindReadOnly, nil)
	}
	if len(p) == 0 {
		return nil
	}

	saved := c.position
	n := 0
	for n < len(p) {
		if err := c.prepareWrite(c.position); err != nil {
			c.position = saved
			return err
		}

		delta := c.position - c.cache.offset
		space := uint64(config.CacheWindowSize) - delta
		toCopy := uint64(len(p) - n)
		if toCopy > space {
			toCopy = space
		}

		copy(c.cache.clear[delta:delta+toCopy], p[n:uint64(n)+toCopy])
		c.cache.dirty = true
		if delta+toCopy > c.cache.size {
			c.cache.size = delta + toCopy
		}

		c.position += toCopy
		n += int(toCopy)

		if c.position > c.header.DataLen {
			c.header.DataLen = c.position
			c.headerDirty = true
		}
	}
	return nil
}

// Truncate 把逻辑长度设为 newLen，扩大时用零字节填充，缩小时丢弃尾部数据。
func (c *Container) Truncate(newLen uint64) error {
	if c.readOnly {
		return newErr("truncate", KindReadOnly, nil)
	}
	if newLen == c.header.DataLen {
		return nil
	}

	roundLen := roundUp(newLen, config.SectorSize)
	if roundLen < c.fileDataLen {
		if err := c.file.Truncate(int64(config.DataOffset) + int64(roundLen)); err != nil {
			return newErr("truncate", KindIO, err)
		}
		c.fileDataLen = roundLen
	} else if roundLen > c.fileDataLen {
		if err := c.fillGapTo(roundLen); err != nil {
			return err
		}
	}

	if newLen%config.SectorSize != 0 {
		sectorStart := roundDown(newLen, config.SectorSize)
		sector := make([]byte, config.SectorSize)
		if sectorStart+config.SectorSize <= c.fileDataLen {
			if err := decryptSectorsRaw(c.file, c.cipherCtx, sectorStart, sector); err != nil {
				return newErr("truncate", KindCrypto, err)
			}
		}
		zeroFrom := newLen - sectorStart
		for i := zeroFrom; i < config.SectorSize; i++ {
			sector[i] = 0
		}
		if err := encryptAndWriteSectorsRaw(c.file, c.cipherCtx, sectorStart, sector); err != nil {
			return newErr("truncate", KindIO, err)
		}
		if sectorStart+config.SectorSize > c.fileDataLen {
			c.fileDataLen = sectorStart + config.SectorSize
		}
	}

	if c.cache.loaded {
		if c.cache.offset >= newLen {
			c.cache = cacheWindow{clear: c.cache.clear}
		} else if c.cache.offset+c.cache.size > newLen {
			c.cache.size = newLen - c.cache.offset
		}
	}

	c.header.DataLen = newLen
	c.headerDirty = true
	return c.flushHeader()
}

// Flush 落盘当前脏的缓存窗口和头部，然后按 syncMode 向操作系统请求相应强度
// 的同步。
func (c *Container) Flush(mode SyncMode) error {
	if err := c.flushCache(); err != nil {
		return err
	}
	if err := c.flushHeader(); err != nil {
		return err
	}

	switch mode {
	case SyncNo:
		return nil
	case SyncNormal:
		if err := c.file.Sync(); err != nil {
			return newErr("flush", KindIO, err)
		}
		return nil
	case SyncFull:
		if err := fullSync(c.file); err != nil {
			return newErr("flush", KindIO, err)
		}
		return nil
	default:
		return newErr("flush", KindArguments, fmt.Errorf("未知的 syncMode %d", mode))
	}
}

// ChangePassword 用 newPassword 重新派生头部密钥并就地重写头部；数据密钥
// 本身不变。
func (c *Container) ChangePassword(newPassword string) error {
	if c.readOnly {
		return newErr("changePassword", KindReadOnly, nil)
	}
	copy(c.headerKey, deriveHeaderKey(newPassword, c.prefix.PasswordSalt[:], c.prefix.PasswordRounds, len(c.headerKey)))
	c.headerDirty = true
	return c.flushHeader()
}

// Close 落盘（SyncNormal）、擦除密钥材料并关闭底层文件描述符。只读容器
// 从不产生脏状态，直接跳过同步，避免对只读描述符调用 fsync。
func (c *Container) Close() error {
	var flushErr error
	if !c.readOnly {
		flushErr = c.Flush(SyncNormal)
	}

	c.cipherCtx = nil
	if c.secure != nil {
		c.secure.Free()
		c.secure = nil
	}

	var closeErr error
	if c.file != nil {
		closeErr = c.file.Close()
		c.file = nil
	}

	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return newErr("close", KindIO, closeErr)
	}
	return nil
}
