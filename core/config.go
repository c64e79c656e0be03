package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env      string
		Debug    bool
		TestMode bool
		AppName  string
		Build    string

		// SecretKey signs access tokens; RefreshSecretKey signs refresh tokens.
		// Two independent keys so a leaked (short-lived, high-exposure) access
		// token can never be replayed as a refresh token.
		SecretKey        []byte
		RefreshSecretKey []byte

		FrontendBaseURL      string
		SendgridApiKey       string
		RollbarToken         string
		PasswordResetTimeout time.Duration

		defaultFromEmail string

		Server   ServerConfig
		Database DatabaseConfig
	}

	ServerConfig struct {
		Host            string
		Addr            string
		DebugHost       string
		ShutdownTimeout time.Duration
		AccessTokenTTL  time.Duration
		RefreshTokenTTL time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}
)

func (c DatabaseConfig) Address() string {
	return c.Host + ":" + c.Port
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
}

func (c *Config) IsDev() bool {
	return c.Env == "DEV" || c.Env == "TEST"
}

// NewConfig loads the app configuration from the environment.
// An optional config/.env.<env> file is loaded first if present.
// It fails if the signing secrets are unset (or equal) outside DEV/TEST.
func NewConfig() (*Config, error) {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Shule")
	v.SetDefault("build", "dev")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("accessTokenExpirationDelta", time.Hour)
	v.SetDefault("refreshTokenExpirationDelta", 7*24*time.Hour)
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddr", ":8000")
	v.SetDefault("serverDebugHost", "localhost:4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("databaseEngine", "postgres")
	v.SetDefault("databaseHost", "localhost")
	v.SetDefault("databasePort", "5432")
	v.SetDefault("databaseName", "shule")
	v.SetDefault("databaseUser", "")
	v.SetDefault("databasePassword", "")
	v.SetDefault("databaseAdminUser", "")
	v.SetDefault("databaseAdminPassword", "")
	v.SetDefault("databaseDisableTLS", true)
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("secretKey", "")
	v.SetDefault("refreshSecretKey", "")

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:                  env,
		Debug:                v.GetBool("debug"),
		TestMode:             env == "TEST",
		AppName:              v.GetString("appName"),
		Build:                v.GetString("build"),
		SecretKey:            []byte(v.GetString("secretKey")),
		RefreshSecretKey:     []byte(v.GetString("refreshSecretKey")),
		FrontendBaseURL:      v.GetString("frontendBaseURL"),
		SendgridApiKey:       v.GetString("sendgridApiKey"),
		RollbarToken:         v.GetString("rollbarToken"),
		PasswordResetTimeout: v.GetDuration("passwordResetTimeoutDelta"),
		defaultFromEmail:     v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:            v.GetString("serverHost"),
			Addr:            v.GetString("serverAddr"),
			DebugHost:       v.GetString("serverDebugHost"),
			ShutdownTimeout: v.GetDuration("serverShutdownTimeout"),
			AccessTokenTTL:  v.GetDuration("accessTokenExpirationDelta"),
			RefreshTokenTTL: v.GetDuration("refreshTokenExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("databaseEngine"),
			Host:          v.GetString("databaseHost"),
			Port:          v.GetString("databasePort"),
			Name:          v.GetString("databaseName"),
			User:          v.GetString("databaseUser"),
			Password:      v.GetString("databasePassword"),
			AdminUser:     v.GetString("databaseAdminUser"),
			AdminPassword: v.GetString("databaseAdminPassword"),
			DisableTLS:    v.GetBool("databaseDisableTLS"),
		},
	}

	if err := conf.checkSecrets(); err != nil {
		return nil, err
	}
	return conf, nil
}

// checkSecrets enforces distinct non-empty signing keys.
// DEV/TEST fall back to throwaway keys; any other environment fails closed.
func (c *Config) checkSecrets() error {
	if c.IsDev() {
		if len(c.SecretKey) == 0 {
			c.SecretKey = []byte("dev-only-access-signing-key")
		}
		if len(c.RefreshSecretKey) == 0 {
			c.RefreshSecretKey = []byte("dev-only-refresh-signing-key")
		}
	}
	if len(c.SecretKey) == 0 {
		return errors.Errorf("config: %s_SECRETKEY is required", c.Env)
	}
	if len(c.RefreshSecretKey) == 0 {
		return errors.Errorf("config: %s_REFRESHSECRETKEY is required", c.Env)
	}
	if string(c.SecretKey) == string(c.RefreshSecretKey) {
		return errors.New("config: access and refresh signing keys must differ")
	}
	return nil
}
