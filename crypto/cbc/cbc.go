// Package cbc 实现容器头部所需的 AES-CBC 加解密。
//
// 头部明文长度固定为 5 个 AES 分组（80 字节），IV 取自容器前缀而非随机生成，
// 因此这里不做 PKCS7 填充，也不在密文中携带 IV：调用方负责提供并持久化 IV。
package cbc

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// EncryptNoPad 使用 AES-CBC（无填充）和给定的密钥、IV 加密明文。
// plaintext 长度必须是 aes.BlockSize 的整数倍。
func EncryptNoPad(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cbc: 创建 cipher.Block 失败: %w", err)
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cbc: 明文长度 %d 不是分组大小的整数倍", len(plaintext))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("cbc: IV 长度必须为 %d 字节", aes.BlockSize)
	}

	ciphertext := make([]byte, len(plaintext))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, plaintext)

	return ciphertext, nil
}

// DecryptNoPad 使用 AES-CBC（无填充）和给定的密钥、IV 解密密文。
func DecryptNoPad(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cbc: 创建 cipher.Block 失败: %w", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cbc: 密文长度 %d 不是分组大小的整数倍", len(ciphertext))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("cbc: IV 长度必须为 %d 字节", aes.BlockSize)
	}

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, ciphertext)

	return plaintext, nil
}
