package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ebay_sync_v1_202610/pkg/apperr"
)

const (
	ivSize  = 12
	tagSize = 16
)

// Sealed 规范格式的密文：base64(密文‖tag) + base64(iv)
type Sealed struct {
	Ciphertext string
	IV         string
}

// Vault 刷新令牌的对称加解密 (AES-256-GCM)
// 密钥来自构造参数，不读取任何全局状态
type Vault struct {
	aead func(nonceSize int) (cipher.AEAD, error)
}

// New 创建 Vault，secret 为空时返回配置错误
// secret 为 64 位十六进制时直接作为 32 字节密钥，否则取 SHA-256
func New(secret string) (*Vault, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, apperr.New(apperr.ErrConfiguration, "vault secret 未配置")
	}
	key := deriveKey(secret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("初始化 AES 失败: %w", err)
	}
	return &Vault{
		aead: func(nonceSize int) (cipher.AEAD, error) {
			return cipher.NewGCMWithNonceSize(block, nonceSize)
		},
	}, nil
}

func deriveKey(secret string) []byte {
	if len(secret) == 64 {
		if raw, err := hex.DecodeString(secret); err == nil {
			return raw
		}
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Encrypt 加密，返回规范格式
func (v *Vault) Encrypt(plaintext string) (string, string, error) {
	s, err := v.seal([]byte(plaintext))
	if err != nil {
		return "", "", err
	}
	return s.Ciphertext, s.IV, nil
}

func (v *Vault) seal(plaintext []byte) (*Sealed, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("生成 IV 失败: %w", err)
	}
	gcm, err := v.aead(ivSize)
	if err != nil {
		return nil, err
	}
	// Seal 输出即为 密文‖tag
	out := gcm.Seal(nil, iv, plaintext, nil)
	return &Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(out),
		IV:         base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// Decrypt 只走规范格式
func (v *Vault) Decrypt(ciphertext, iv string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("密文 base64 解码失败: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("IV base64 解码失败: %w", err)
	}
	return v.open(nonce, data)
}

// Open 兼容旧格式的解密入口
// 旧格式解密成功时 upgraded 返回重新加密后的规范格式，调用方负责落库；规范格式 upgraded 为 nil
func (v *Vault) Open(ciphertext, iv string) (string, *Sealed, error) {
	legacy, ok := parseLegacy(ciphertext)
	if !ok {
		plain, err := v.Decrypt(ciphertext, iv)
		return plain, nil, err
	}

	sealed := append(append([]byte{}, legacy.data...), legacy.tag...)
	plain, err := v.open(legacy.iv, sealed)
	if err != nil {
		return "", nil, fmt.Errorf("旧格式解密失败: %w", err)
	}
	upgraded, err := v.seal([]byte(plain))
	if err != nil {
		return "", nil, err
	}
	return plain, upgraded, nil
}

// IsLegacy 判断是否为旧的十六进制 {iv, tag, data} 格式
func IsLegacy(ciphertext string) bool {
	_, ok := parseLegacy(ciphertext)
	return ok
}

func (v *Vault) open(nonce, sealed []byte) (string, error) {
	if len(nonce) == 0 {
		return "", errors.New("IV 为空")
	}
	if len(sealed) < tagSize {
		return "", errors.New("密文长度不足")
	}
	gcm, err := v.aead(len(nonce))
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("GCM 校验失败: %w", err)
	}
	return string(plain), nil
}

// ==================== 旧格式解析 ====================

type legacyParts struct {
	iv, tag, data []byte
}

type legacyJSON struct {
	IV   string `json:"iv"`
	Tag  string `json:"tag"`
	Data string `json:"data"`
}

// parseLegacy 识别三种旧形态：
//  1. {"iv":"..","tag":"..","data":".."} 字段为十六进制
//  2. 上述 JSON 整体再做一次十六进制编码
//  3. iv:tag:data 十六进制三元组
func parseLegacy(s string) (*legacyParts, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}

	if strings.HasPrefix(s, "{") {
		return decodeLegacyJSON([]byte(s))
	}

	if parts := strings.Split(s, ":"); len(parts) == 3 {
		return decodeHexTriple(parts[0], parts[1], parts[2])
	}

	if isHex(s) {
		raw, err := hex.DecodeString(s)
		if err == nil && len(raw) > 0 && raw[0] == '{' {
			return decodeLegacyJSON(raw)
		}
	}
	return nil, false
}

func decodeLegacyJSON(raw []byte) (*legacyParts, bool) {
	var l legacyJSON
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, false
	}
	return decodeHexTriple(l.IV, l.Tag, l.Data)
}

func decodeHexTriple(ivHex, tagHex, dataHex string) (*legacyParts, bool) {
	iv, err1 := hex.DecodeString(ivHex)
	tag, err2 := hex.DecodeString(tagHex)
	data, err3 := hex.DecodeString(dataHex)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, false
	}
	if len(iv) == 0 || len(tag) != tagSize {
		return nil, false
	}
	return &legacyParts{iv: iv, tag: tag, data: data}, true
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
