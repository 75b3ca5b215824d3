package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_ADDRESS", "PORT", "BASE_DIR", "SCRIPT_EXTENSIONS", "ADMIN_USERNAME", "ADMIN_PASSWORD",
		"SESSION_SECRET", "SESSION_TTL", "COOKIE_SECURE", "SUPERVISOR_SOCKET", "MAX_INSTANCES", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"ADMIN_PASSWORD", "SESSION_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("BASE_DIR", "/srv/scripts")
	t.Setenv("ADMIN_PASSWORD", "pw")
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("SCRIPT_EXTENSIONS", ".js,.ts")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("MAX_INSTANCES", "4")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Sandbox.BaseDir != "/srv/scripts" || cfg.Auth.Username != "admin" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Auth.SessionTTL != 2*time.Hour || !cfg.Auth.SecureCookie {
		t.Errorf("unexpected auth config: %+v", cfg.Auth)
	}
	if cfg.Supervisor.MaxInstances != 4 {
		t.Errorf("max instances = %d", cfg.Supervisor.MaxInstances)
	}
	if !reflect.DeepEqual(cfg.Sandbox.ScriptExtensions, []string{".js", ".ts"}) {
		t.Errorf("extensions = %v", cfg.Sandbox.ScriptExtensions)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "panel.yaml")
	os.WriteFile(path, []byte(`
server:
  address: ":7000"
sandbox:
  base_dir: /opt/apps
auth:
  username: ops
  password: from-file
  session_secret: file-secret
  session_ttl: 30m
log:
  format: json
`), 0600)
	t.Setenv("ADMIN_PASSWORD", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Address != ":7000" || cfg.Auth.Username != "ops" || cfg.Sandbox.BaseDir != "/opt/apps" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Auth.Password != "from-env" {
		t.Errorf("env should override file, got %q", cfg.Auth.Password)
	}
	if cfg.Auth.SessionTTL != 30*time.Minute || cfg.Log.Format != "json" {
		t.Errorf("unexpected values: ttl=%v format=%q", cfg.Auth.SessionTTL, cfg.Log.Format)
	}
}

func TestLoadConfigRejectsBadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADMIN_PASSWORD", "pw")
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("SESSION_TTL", "forever")

	if _, err := LoadConfig(""); err == nil {
		t.Error("expected error for bad SESSION_TTL")
	}

	t.Setenv("SESSION_TTL", "")
	t.Setenv("MAX_INSTANCES", "0")
	if _, err := LoadConfig(""); err == nil {
		t.Error("expected error for MAX_INSTANCES below 1")
	}
}

func TestLoadEcosystem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecosystem.yaml")
	os.WriteFile(path, []byte(`
apps:
  - name: api
    script: ./api/server.js
    args: ["--port", "3000"]
    autostart: true
    env:
      NODE_ENV: production
  - name: worker
    script: ./worker.sh
    instances: 2
    exec_mode: cluster
`), 0644)

	cfg, err := LoadEcosystem(path)
	if err != nil {
		t.Fatalf("LoadEcosystem failed: %v", err)
	}
	if len(cfg.Apps) != 2 {
		t.Fatalf("expected 2 apps, got %d", len(cfg.Apps))
	}
	api := cfg.Apps[0]
	if api.Instances != 1 || api.ExecMode != "fork" || !api.AutoStart || api.Environment["NODE_ENV"] != "production" {
		t.Errorf("unexpected api app: %+v", api)
	}
	if cfg.Apps[1].Instances != 2 || cfg.Apps[1].ExecMode != "cluster" {
		t.Errorf("unexpected worker app: %+v", cfg.Apps[1])
	}

	missing, err := LoadEcosystem(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil || len(missing.Apps) != 0 {
		t.Errorf("missing file should yield no apps, got %+v, %v", missing, err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("apps:\n  - name: nameless-script\n"), 0644)
	if _, err := LoadEcosystem(bad); err == nil {
		t.Error("expected error for app without script")
	}
}
