package cryptofile

import (
	"crypto/sha256"
	"time"

	"github.com/bpfs/cryptofile/config"
	"golang.org/x/crypto/pbkdf2"
)

// deriveHeaderKey 通过 PBKDF2-HMAC-SHA256 从密码派生头部密钥。
func deriveHeaderKey(password string, salt []byte, rounds uint32, keyLen int) []byte {
	return pbkdf2.Key([]byte(password), salt, int(rounds), keyLen, sha256.New)
}

// calibrateRounds 在当前主机上粗略校准 PBKDF2 轮数，使单次派生耗时接近
// targetDuration。calibrateRounds 返回 0 表示校准失败（应作为创建错误处理）。
//
// 做法：先用一个较小的基准轮数计时一次派生，再按耗时比例外推所需轮数。
func calibrateRounds(keyLen int, targetDuration time.Duration) uint32 {
	const probeRounds = 10000
	salt := make([]byte, config.SaltSize)

	start := time.Now()
	pbkdf2.Key([]byte("calibration-probe"), salt, probeRounds, keyLen, sha256.New)
	elapsed := time.Since(start)

	if elapsed <= 0 {
		return 0
	}

	scaled := float64(probeRounds) * (float64(targetDuration) / float64(elapsed))
	if scaled < 1 {
		return 0
	}
	if scaled > float64(^uint32(0)) {
		scaled = float64(^uint32(0))
	}

	return uint32(scaled)
}
