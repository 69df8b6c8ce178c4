package cryptofile

import (
	"fmt"
	"os"

	"github.com/bpfs/cryptofile/config"
)

// readSectorsRaw 从数据区的 sectorOffset 处读取 len(buf) 字节的密文（必须是
// 扇区大小的整数倍），不做任何解密。
func readSectorsRaw(file *os.File, sectorOffset uint64, buf []byte) error {
	if len(buf)%config.SectorSize != 0 {
		return fmt.Errorf("sectorio: 读取长度 %d 不是扇区大小的整数倍", len(buf))
	}
	n, err := file.ReadAt(buf, int64(config.DataOffset)+int64(sectorOffset))
	if err != nil {
		return fmt.Errorf("sectorio: 读取失败: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("sectorio: 短读：期望 %d 字节，实际读取 %d 字节", len(buf), n)
	}
	return nil
}

// writeSectorsRaw 把 buf（必须是扇区大小的整数倍）写入数据区的 sectorOffset
// 处的密文区域。
func writeSectorsRaw(file *os.File, sectorOffset uint64, buf []byte) error {
	if len(buf)%config.SectorSize != 0 {
		return fmt.Errorf("sectorio: 写入长度 %d 不是扇区大小的整数倍", len(buf))
	}
	n, err := file.WriteAt(buf, int64(config.DataOffset)+int64(sectorOffset))
	if err != nil {
		return fmt.Errorf("sectorio: 写入失败: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("sectorio: 短写：期望写入 %d 字节，实际写入 %d 字节", len(buf), n)
	}
	return nil
}

// decryptSectorsRaw 读取并解密 [sectorOffset, sectorOffset+len(out)) 范围内
// 的扇区，startSector 是第一个扇区的扇区号。
func decryptSectorsRaw(file *os.File, cipherCtx *containerCipher, sectorOffset uint64, out []byte) error {
	if err := readSectorsRaw(file, sectorOffset, out); err != nil {
		return err
	}
	startSector := sectorOffset / config.SectorSize
	for i := 0; i < len(out); i += config.SectorSize {
		sector := out[i : i+config.SectorSize]
		if err := cipherCtx.dec.DecryptSector(sector, startSector+uint64(i/config.SectorSize)); err != nil {
			return fmt.Errorf("sectorio: 解密失败: %w", err)
		}
	}
	return nil
}

// encryptAndWriteSectorsRaw 加密 clear（必须是扇区大小的整数倍）并写入
// sectorOffset 处，startSector 是第一个扇区的扇区号。clear 在函数返回前
// 会被原地加密为密文；调用方不应在此之后继续把 clear 当作明文使用。
func encryptAndWriteSectorsRaw(file *os.File, cipherCtx *containerCipher, sectorOffset uint64, clear []byte) error {
	startSector := sectorOffset / config.SectorSize
	for i := 0; i < len(clear); i += config.SectorSize {
		sector := clear[i : i+config.SectorSize]
		if err := cipherCtx.enc.EncryptSector(sector, startSector+uint64(i/config.SectorSize)); err != nil {
			return fmt.Errorf("sectorio: 加密失败: %w", err)
		}
	}
	return writeSectorsRaw(file, sectorOffset, clear)
}
