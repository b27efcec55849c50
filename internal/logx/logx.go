// Package logx 构造进程级 logrus logger。
package logx

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup 配置包级 logrus（未注入 logger 的组件都落到这里），并返回它。
func Setup(level string, json bool) *logrus.Logger {
	l := logrus.StandardLogger()
	configure(l, level, json)
	return l
}

// New 返回独立的 logger。
//
// 约束：
// - w 为 nil 时写 stderr（stdout 留给命令输出）
// - 无法识别的级别回落到 info，不报错
func New(w io.Writer, level string, json bool) *logrus.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(w)
	configure(l, level, json)
	return l
}

func configure(l *logrus.Logger, level string, json bool) {
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetLevel(ParseLevel(level))
}

func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
