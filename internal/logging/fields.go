package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 提供缓存 key 与所在层（memory/disk）字段，供缓存日志复用。
func CacheFields(action, key, layer string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"key":    key,
		"layer":  layer,
	}
}

// FetchFields 提供资源类型、缓存 key 与数据来源字段，供编排层日志复用。
func FetchFields(resource, key, source string, offline bool) logrus.Fields {
	return logrus.Fields{
		"resource": resource,
		"key":      key,
		"source":   source,
		"offline":  offline,
	}
}
