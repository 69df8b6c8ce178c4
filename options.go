package cryptofile

import (
	"time"

	"github.com/sirupsen/logrus"
)

// KeySize 枚举 XTS 数据密钥的长度，对应前缀中的 keySize 字段（0/1/2）。
type KeySize uint8

const (
	// KeySize128 对应 AES-128-XTS（16 字节密钥）
	KeySize128 KeySize = 0
	// KeySize192 对应 AES-192-XTS（24 字节密钥）
	KeySize192 KeySize = 1
	// KeySize256 对应 AES-256-XTS（32 字节密钥）
	KeySize256 KeySize = 2
)

// bytes 返回该 KeySize 对应的字节长度，0 表示非法取值。
func (k KeySize) bytes() int {
	switch k {
	case KeySize128:
		return 16
	case KeySize192:
		return 24
	case KeySize256:
		return 32
	default:
		return 0
	}
}

// Option 是应用于 Options 的配置函数，仅影响周边行为（日志、KDF 校准目标
// 耗时等），绝不改变磁盘格式或核心语义。
type Option func(*Options) error

// Options 收集创建/打开容器时的可选旁路配置
type Options struct {
	logger          *logrus.Logger
	kdfTargetMillis int
}

// DefaultOptions 返回一组推荐的默认配置
func DefaultOptions() *Options {
	return &Options{
		logger:          nil, // nil 表示使用 internal/obslog 的全局 logger
		kdfTargetMillis: 100, // 约 100ms 的 PBKDF2 校准目标
	}
}

// ApplyOptions 依次应用给定的选项函数
func (o *Options) ApplyOptions(opts ...Option) error {
	for _, apply := range opts {
		if err := apply(o); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger 注入一个自定义的 logrus.Logger，替代包级全局 logger
func WithLogger(logger *logrus.Logger) Option {
	return func(o *Options) error {
		o.logger = logger
		return nil
	}
}

// WithKDFTarget 覆盖 PBKDF2 轮数校准的目标耗时，主要用于测试中加速创建容器
func WithKDFTarget(d time.Duration) Option {
	return func(o *Options) error {
		o.kdfTargetMillis = int(d / time.Millisecond)
		return nil
	}
}
