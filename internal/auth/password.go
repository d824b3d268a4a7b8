package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const passwordSaltBytes = 16

// 支持的密码方案。
const (
	SchemePlain  = "plain"
	SchemeSHA256 = "sha256"
	SchemeBcrypt = "bcrypt"
)

// Verifier 负责生成落库的凭证并校验用户提供的密码。
type Verifier interface {
	Hash(password string) (string, error)
	Verify(stored, provided string) bool
}

// NewVerifier 根据方案名称构造校验器。
func NewVerifier(scheme string, bcryptCost int) (Verifier, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", SchemePlain:
		return Plain{}, nil
	case SchemeSHA256:
		return SaltedSHA256{}, nil
	case SchemeBcrypt:
		return Bcrypt{Cost: bcryptCost}, nil
	default:
		return nil, fmt.Errorf("不支持的密码方案: %s", scheme)
	}
}

// Plain 原样保存密码，只适合本地演示。
type Plain struct{}

// Hash 原样返回密码。
func (Plain) Hash(password string) (string, error) {
	return password, nil
}

// Verify 使用常量时间比较。
func (Plain) Verify(stored, provided string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(provided)) == 1
}

// SaltedSHA256 以 base64(salt):base64(sha256(salt+password)) 保存。
type SaltedSHA256 struct{}

// Hash 生成随机盐并计算摘要。
func (SaltedSHA256) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("密码不能为空")
	}
	salt := make([]byte, passwordSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("生成盐值失败: %w", err)
	}
	digest := sha256.Sum256(append(salt, []byte(password)...))
	return base64.RawStdEncoding.EncodeToString(salt) + ":" + base64.RawStdEncoding.EncodeToString(digest[:]), nil
}

// Verify 验证给定的密码是否与摘要匹配。
func (SaltedSHA256) Verify(stored, provided string) bool {
	salt, expected, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}
	rawSalt, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil {
		return false
	}
	rawExpected, err := base64.RawStdEncoding.DecodeString(expected)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(append(rawSalt, []byte(provided)...))
	return subtle.ConstantTimeCompare(rawExpected, digest[:]) == 1
}

// Bcrypt 使用 golang.org/x/crypto/bcrypt。
type Bcrypt struct {
	Cost int
}

// Hash 计算 bcrypt 哈希。
func (b Bcrypt) Hash(password string) (string, error) {
	cost := b.Cost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("计算 bcrypt 哈希失败: %w", err)
	}
	return string(hashed), nil
}

// Verify 校验 bcrypt 哈希。
func (Bcrypt) Verify(stored, provided string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(provided)) == nil
}
