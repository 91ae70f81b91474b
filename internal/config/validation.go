package config

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

var supportedStorageDrivers = map[string]struct{}{
	"fs":     {},
	"sqlite": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedStorageDrivers[strings.ToLower(g.StorageDriver)]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 fs|sqlite")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	switch g.LogFormat {
	case "", "json", "text":
	default:
		return newFieldError("Global.LogFormat", "仅支持 json|text")
	}

	if err := c.Worker.validate(); err != nil {
		return err
	}
	return c.Relay.validate()
}

func (w WorkerConfig) validate() error {
	if err := validateOrigin(w.Origin); err != nil {
		return fmt.Errorf("%s: %w", workerField("Origin"), err)
	}
	if w.CacheName == "" {
		return newFieldError(workerField("CacheName"), "不能为空")
	}
	if strings.ContainsAny(w.CacheName, `/\ `) {
		return newFieldError(workerField("CacheName"), "不能包含路径分隔符或空格")
	}
	for field, value := range map[string]string{
		"APIPrefix":    w.APIPrefix,
		"IndexPath":    w.IndexPath,
		"OfflinePath":  w.OfflinePath,
		"ManifestPath": w.ManifestPath,
	} {
		if !strings.HasPrefix(value, "/") {
			return newFieldError(workerField(field), "必须以 / 开头")
		}
	}
	if w.AssetsPrefix != "" && !strings.HasPrefix(w.AssetsPrefix, "/") {
		return newFieldError(workerField("AssetsPrefix"), "必须以 / 开头")
	}
	for _, ext := range w.StaticExtensions {
		if !strings.HasPrefix(ext, ".") {
			return newFieldError(workerField("StaticExtensions"), fmt.Sprintf("扩展名需以 . 开头: %s", ext))
		}
	}
	if len(w.BootstrapAssets) == 0 {
		return newFieldError(workerField("BootstrapAssets"), "至少需要一个引导资源")
	}
	if w.ClientIdleTimeout.DurationValue() < 0 {
		return newFieldError(workerField("ClientIdleTimeout"), "不能为负数")
	}
	return nil
}

func (r RelayConfig) validate() error {
	if (r.Username == "") != (r.Password == "") {
		return newFieldError(relayField("Username/Password"), "必须同时提供或同时留空")
	}
	if r.Port <= 0 || r.Port > 65535 {
		return newFieldError(relayField("Port"), "必须在 1-65535")
	}
	if r.Host != "" && strings.Contains(r.Host, ":") {
		return newFieldError(relayField("Host"), "不应包含端口，请使用 Port 字段")
	}
	if r.To != "" {
		if _, err := mail.ParseAddress(r.To); err != nil {
			return newFieldError(relayField("To"), "邮箱地址无效")
		}
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}
