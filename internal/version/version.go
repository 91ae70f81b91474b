// Package version 保存构建时注入的版本信息。
package version

import "fmt"

// Version/Commit 通过 -ldflags "-X" 注入，未注入时为开发占位值。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回 CLI `--version` 输出。
func Full() string {
	return fmt.Sprintf("folio-edge %s (%s)", Version, Commit)
}

// UserAgent 是回源请求未携带 User-Agent 时使用的标识。
func UserAgent() string {
	return "folio-edge/" + Version
}
