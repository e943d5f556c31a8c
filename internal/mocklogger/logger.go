// Package mocklogger provides a zap logger that captures entries in memory
// for assertions. It implements the plugin Logger interface.
package mocklogger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type ZapLoggerMock struct {
	l    *zap.Logger
	logs *observer.ObservedLogs
}

func ZapTestLogger(enab zapcore.LevelEnabler) (*ZapLoggerMock, *observer.ObservedLogs) {
	core, logs := observer.New(enab)
	return &ZapLoggerMock{
		l:    zap.New(core, zap.Development()),
		logs: logs,
	}, logs
}

func (z *ZapLoggerMock) NamedLogger(name string) *zap.Logger {
	return z.l.Named(name)
}

func (z *ZapLoggerMock) Logger() *zap.Logger {
	return z.l
}
