package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shulehub/shule/core"
	"github.com/shulehub/shule/core/user"
)

// NewTestConfig returns a self-contained config suitable for tests:
// distinct throwaway signing keys and short-ish TTLs.
func NewTestConfig() *core.Config {
	return &core.Config{
		Env:                  "TEST",
		Debug:                true,
		TestMode:             true,
		AppName:              "Shule",
		Build:                "test",
		SecretKey:            []byte("test-access-signing-key"),
		RefreshSecretKey:     []byte("test-refresh-signing-key"),
		FrontendBaseURL:      "http://localhost:3000",
		PasswordResetTimeout: 3 * 24 * time.Hour,
		Server: core.ServerConfig{
			Host:            "localhost",
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd string,
	roles user.RoleFlags,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Email:     email,
		RoleFlags: roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}
