package service

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/harvesttable/donations/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// AuthService 管理员认证服务
type AuthService struct {
	accounts map[string]config.AdminAccountConfig
	jwt      config.JWTConfig
}

// NewAuthService 创建认证服务实例
func NewAuthService(admin config.AdminConfig, jwtCfg config.JWTConfig) *AuthService {
	accounts := make(map[string]config.AdminAccountConfig)
	for _, account := range admin.AllAccounts() {
		accounts[account.Username] = account
	}
	return &AuthService{accounts: accounts, jwt: jwtCfg}
}

// HashPassword 使用 bcrypt 加密密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// JWTClaims JWT 声明
type JWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT 生成 JWT Token
func (s *AuthService) GenerateJWT(username, role string) (string, time.Time, error) {
	hours := s.jwt.ExpireHours
	if hours <= 0 {
		hours = 12
	}
	now := time.Now()
	expiresAt := now.Add(time.Duration(hours) * time.Hour)

	claims := JWTClaims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwt.SecretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseJWT 解析 JWT Token，角色以当前配置为准
func (s *AuthService) ParseJWT(tokenString string) (*JWTClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwt.SecretKey), nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	account, exists := s.accounts[claims.Username]
	if !exists {
		return nil, ErrInvalidToken
	}
	claims.Role = account.Role
	return claims, nil
}

// Login 管理员登录，账号来自配置，密码使用 bcrypt 校验
func (s *AuthService) Login(username, password string) (string, time.Time, error) {
	if len(s.accounts) == 0 {
		return "", time.Time{}, ErrAdminNotConfigured
	}
	account, exists := s.accounts[strings.TrimSpace(username)]
	if !exists {
		// 账号不存在时同样执行一次比对，避免通过耗时探测用户名
		_ = bcrypt.CompareHashAndPassword(loginDummyHash(), []byte(password))
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return s.GenerateJWT(account.Username, account.Role)
}

func loginDummyHash() []byte {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("harvesttable-dummy-password"), bcrypt.DefaultCost)
	})
	return dummyHash
}
