package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = "boom"

[Worker]
Origin = "http://origin.local"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsIntegerSecondsDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = 45

[Worker]
Origin = "http://origin.local"
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if got := loaded.Global.UpstreamTimeout.DurationValue().Seconds(); got != 45 {
		t.Fatalf("整数秒应被解析为 45s，得到 %v", got)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("FOLIO_WORKER_CACHENAME", "folio-v9")
	t.Setenv("FOLIO_RELAY_USERNAME", "mailer@example.com")
	t.Setenv("FOLIO_RELAY_PASSWORD", "secret")
	t.Setenv("FOLIO_CONTROLTOKEN", " edge-secret ")

	cfg := `
StoragePath = "./data"

[Worker]
Origin = "http://origin.local"
CacheName = "folio-v1"

[Relay]
Host = "smtp.example.com"
To = "owner@example.com"
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Worker.CacheName != "folio-v9" {
		t.Fatalf("环境变量应覆盖 CacheName，得到 %s", loaded.Worker.CacheName)
	}
	if !loaded.Relay.Enabled() {
		t.Fatalf("环境变量提供凭证后中继应启用")
	}
	if loaded.Global.ControlToken != "edge-secret" {
		t.Fatalf("环境变量应覆盖 ControlToken 并去除空白，得到 %q", loaded.Global.ControlToken)
	}
	if loaded.Relay.From != "mailer@example.com" {
		t.Fatalf("From 默认应取 Username，得到 %s", loaded.Relay.From)
	}
}

func TestLoadReadsDotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := `
StoragePath = "./data"

[Worker]
Origin = "http://origin.local"
`
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("FOLIO_WORKER_CACHENAME=folio-dotenv\n"), 0o600); err != nil {
		t.Fatalf("写入 .env 失败: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("FOLIO_WORKER_CACHENAME") })

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Worker.CacheName != "folio-dotenv" {
		t.Fatalf(".env 中的值应生效，得到 %s", loaded.Worker.CacheName)
	}
}
