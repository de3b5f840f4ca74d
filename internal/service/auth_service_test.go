package service

import (
	"errors"
	"testing"

	"github.com/harvesttable/donations/internal/config"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash password failed: %v", err)
	}
	return NewAuthService(
		config.AdminConfig{Username: "admin", PasswordHash: hash},
		config.JWTConfig{SecretKey: "test-secret", ExpireHours: 1},
	)
}

func TestAuthLoginAndParse(t *testing.T) {
	svc := newTestAuthService(t)
	token, expiresAt, err := svc.Login("admin", "correct horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if token == "" || expiresAt.IsZero() {
		t.Fatalf("expected token and expiry")
	}
	claims, err := svc.ParseJWT(token)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if claims.Username != "admin" || claims.Role != config.AdminRoleOwner {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestAuthLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestAuthService(t)
	if _, _, err := svc.Login("admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login("root", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	unconfigured := NewAuthService(config.AdminConfig{Username: "admin"}, config.JWTConfig{SecretKey: "x"})
	if _, _, err := unconfigured.Login("admin", "anything"); !errors.Is(err, ErrAdminNotConfigured) {
		t.Fatalf("expected ErrAdminNotConfigured, got %v", err)
	}
}

func TestAuthParseRejectsForeignToken(t *testing.T) {
	svc := newTestAuthService(t)
	other := NewAuthService(config.AdminConfig{Username: "admin"}, config.JWTConfig{SecretKey: "other-secret", ExpireHours: 1})
	token, _, err := other.GenerateJWT("admin", config.AdminRoleOwner)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}
	if _, err := svc.ParseJWT(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthRoleComesFromConfig(t *testing.T) {
	hash, err := HashPassword("auditor pass")
	if err != nil {
		t.Fatalf("hash password failed: %v", err)
	}
	jwtCfg := config.JWTConfig{SecretKey: "test-secret", ExpireHours: 1}
	svc := NewAuthService(config.AdminConfig{
		Accounts: []config.AdminAccountConfig{{Username: "auditor", PasswordHash: hash}},
	}, jwtCfg)

	token, _, err := svc.Login("auditor", "auditor pass")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	claims, err := svc.ParseJWT(token)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if claims.Role != config.AdminRoleReadonlyAuditor {
		t.Fatalf("expected readonly_auditor role, got %q", claims.Role)
	}

	// 令牌中伪造的角色不生效
	forged, _, err := svc.GenerateJWT("auditor", config.AdminRoleOwner)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}
	claims, err = svc.ParseJWT(forged)
	if err != nil {
		t.Fatalf("parse forged token failed: %v", err)
	}
	if claims.Role != config.AdminRoleReadonlyAuditor {
		t.Fatalf("role must be taken from config, got %q", claims.Role)
	}

	removed := NewAuthService(config.AdminConfig{}, jwtCfg)
	if _, err := removed.ParseJWT(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for removed account, got %v", err)
	}
}
