package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供缓存代/策略/响应来源字段，供拦截请求日志复用。
func RequestFields(generation, strategy, source, method, url string) logrus.Fields {
	return logrus.Fields{
		"generation": generation,
		"strategy":   strategy,
		"source":     source,
		"method":     method,
		"url":        url,
	}
}
