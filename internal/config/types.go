package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFormat       string   `mapstructure:"LogFormat"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StorageDriver   string   `mapstructure:"StorageDriver"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	// ControlToken 保护 `/-/sw` 写操作；为空时仅允许本机回环地址调用。
	ControlToken    string   `mapstructure:"ControlToken"`
}

// WorkerConfig 描述缓存 worker 的一个版本：缓存名称、源站与各策略使用的路径。
type WorkerConfig struct {
	Origin               string   `mapstructure:"Origin"`
	CacheName            string   `mapstructure:"CacheName"`
	APIPrefix            string   `mapstructure:"APIPrefix"`
	AssetsPrefix         string   `mapstructure:"AssetsPrefix"`
	StaticExtensions     []string `mapstructure:"StaticExtensions"`
	IndexPath            string   `mapstructure:"IndexPath"`
	OfflinePath          string   `mapstructure:"OfflinePath"`
	ManifestPath         string   `mapstructure:"ManifestPath"`
	BootstrapAssets      []string `mapstructure:"BootstrapAssets"`
	FallbackAssets       []string `mapstructure:"FallbackAssets"`
	SkipWaitingOnInstall bool     `mapstructure:"SkipWaitingOnInstall"`
	// ClientIdleTimeout 之后未再出现的客户端会被移出注册表，0 表示不回收。
	ClientIdleTimeout    Duration `mapstructure:"ClientIdleTimeout"`
}

// RelayConfig 描述联系表单邮件中继使用的 SMTP 参数。
type RelayConfig struct {
	Host     string `mapstructure:"Host"`
	Port     int    `mapstructure:"Port"`
	Username string `mapstructure:"Username"`
	Password string `mapstructure:"Password"`
	From     string `mapstructure:"From"`
	To       string `mapstructure:"To"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Worker WorkerConfig `mapstructure:"Worker"`
	Relay  RelayConfig  `mapstructure:"Relay"`
}

// HasCredentials 表示 SMTP 凭证是否完整。
func (r RelayConfig) HasCredentials() bool {
	return r.Username != "" && r.Password != ""
}

// Enabled 表示邮件中继是否可用。
func (r RelayConfig) Enabled() bool {
	return r.Host != "" && r.To != "" && r.HasCredentials()
}

// RelayMode 输出 `enabled` 或 `disabled`，供启动日志使用。
func (c *Config) RelayMode() string {
	if c.Relay.Enabled() {
		return "enabled"
	}
	return "disabled"
}
