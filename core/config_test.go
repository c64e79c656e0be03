package core

import (
	"os"
	"testing"
)

func TestNewConfig_devDefaults(t *testing.T) {
	if err := os.Unsetenv("ENV"); err != nil {
		t.Fatalf("os.Unsetenv(): %v", err)
	}

	conf, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() failed: %v", err)
	}
	if conf.Env != "DEV" {
		t.Errorf("Env = %s, want DEV", conf.Env)
	}
	if !conf.IsDev() {
		t.Error("IsDev() = false, want true")
	}
	if len(conf.SecretKey) == 0 || len(conf.RefreshSecretKey) == 0 {
		t.Error("missing dev fallback signing keys")
	}
	if string(conf.SecretKey) == string(conf.RefreshSecretKey) {
		t.Error("fallback signing keys must differ")
	}
}

func TestConfig_checkSecrets(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		access     string
		refresh    string
		wantErr    bool
		wantErrStr string
	}{
		{name: "DEV: falls back to throwaway keys", env: "DEV"},
		{name: "TEST: falls back to throwaway keys", env: "TEST"},
		{name: "PROD: missing access key", env: "PROD", refresh: "r3fresh", wantErr: true, wantErrStr: "config: PROD_SECRETKEY is required"},
		{name: "PROD: missing refresh key", env: "PROD", access: "s3cret", wantErr: true, wantErrStr: "config: PROD_REFRESHSECRETKEY is required"},
		{name: "QA: missing keys", env: "QA", wantErr: true, wantErrStr: "config: QA_SECRETKEY is required"},
		{name: "PROD: equal keys", env: "PROD", access: "s3cret", refresh: "s3cret", wantErr: true, wantErrStr: "config: access and refresh signing keys must differ"},
		{name: "PROD: distinct keys", env: "PROD", access: "s3cret", refresh: "r3fresh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := &Config{
				Env:              tt.env,
				SecretKey:        []byte(tt.access),
				RefreshSecretKey: []byte(tt.refresh),
			}
			err := conf.checkSecrets()
			if tt.wantErr {
				if err == nil {
					t.Fatal("checkSecrets() = nil, want error")
				}
				if err.Error() != tt.wantErrStr {
					t.Errorf("checkSecrets() error = %q, want %q", err.Error(), tt.wantErrStr)
				}
				return
			}
			if err != nil {
				t.Fatalf("checkSecrets() failed: %v", err)
			}
			if string(conf.SecretKey) == string(conf.RefreshSecretKey) {
				t.Error("signing keys must differ")
			}
		})
	}
}
