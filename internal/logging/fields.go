package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求方法/路径/策略/命中状态字段，供代理请求日志复用。
func RequestFields(method, path, strategy, cacheName string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"method":     method,
		"path":       path,
		"strategy":   strategy,
		"cache_name": cacheName,
		"cache_hit":  cacheHit,
	}
}

// WorkerFields 标识 worker 实例及其缓存版本，生命周期与拦截日志共用。
func WorkerFields(workerID, cacheName, action string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"worker_id":  workerID,
		"cache_name": cacheName,
	}
}
