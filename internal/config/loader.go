package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖的前缀，例如 FOLIO_RELAY_PASSWORD。
const EnvPrefix = "FOLIO"

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
// 配置文件同目录下的 .env 会先被加载（不覆盖已有环境变量），便于存放 SMTP 凭证。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyWorkerDefaults(&cfg.Worker)
	applyRelayDefaults(&cfg.Relay)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("读取 .env 失败: %w", err)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageDriver", "fs")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("ControlToken", "")

	v.SetDefault("Worker.Origin", "")
	v.SetDefault("Worker.CacheName", "folio-v1")
	v.SetDefault("Worker.APIPrefix", "/api/")
	v.SetDefault("Worker.AssetsPrefix", "/assets/")
	v.SetDefault("Worker.IndexPath", "/index.html")
	v.SetDefault("Worker.OfflinePath", "/offline.html")
	v.SetDefault("Worker.ManifestPath", "/assets-manifest.json")
	v.SetDefault("Worker.SkipWaitingOnInstall", true)
	v.SetDefault("Worker.ClientIdleTimeout", "30m")

	v.SetDefault("Relay.Host", "")
	v.SetDefault("Relay.Port", 587)
	v.SetDefault("Relay.Username", "")
	v.SetDefault("Relay.Password", "")
	v.SetDefault("Relay.From", "")
	v.SetDefault("Relay.To", "")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = "fs"
	}
	g.LogFormat = strings.ToLower(strings.TrimSpace(g.LogFormat))
	g.ControlToken = strings.TrimSpace(g.ControlToken)
}

func applyWorkerDefaults(w *WorkerConfig) {
	w.Origin = strings.TrimSpace(w.Origin)
	w.CacheName = strings.TrimSpace(w.CacheName)
	if len(w.StaticExtensions) == 0 {
		w.StaticExtensions = []string{".js", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".woff", ".woff2"}
	}
	if len(w.BootstrapAssets) == 0 {
		w.BootstrapAssets = []string{"/", w.IndexPath, w.OfflinePath}
	}
	if w.FallbackAssets == nil {
		w.FallbackAssets = []string{"/static/js/main.js", "/static/css/main.css", "/favicon.ico", "/manifest.json"}
	}
}

func applyRelayDefaults(r *RelayConfig) {
	if r.Port == 0 {
		r.Port = 587
	}
	if r.From == "" {
		r.From = r.Username
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
