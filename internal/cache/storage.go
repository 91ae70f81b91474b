package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// 支持的存储驱动。
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
)

// sqliteFileName 是 sqlite 驱动在 StoragePath 下使用的数据库文件名。
const sqliteFileName = "folio-cache.db"

// NewStorage 根据驱动名构建 Storage，空驱动默认使用磁盘目录布局。
func NewStorage(driver, basePath string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFS:
		return NewFileStorage(basePath)
	case DriverSQLite:
		if basePath == "" {
			return nil, fmt.Errorf("storage path required")
		}
		if err := os.MkdirAll(basePath, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		return OpenSQLiteStorage(filepath.Join(basePath, sqliteFileName))
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
