// Package proxylog wraps a zap.Logger behind the small sink the proxy
// engine consumes, so the engine never depends on zap directly.
package proxylog

import "go.uber.org/zap"

// Logger is the engine's log sink: a message plus optional structured
// details.
type Logger interface {
	Log(msg string, details ...interface{})
}

// Zap adapts a *zap.SugaredLogger to Logger.
type Zap struct {
	sugar *zap.SugaredLogger
}

// NewZap wraps z.
func NewZap(z *zap.Logger) *Zap {
	return &Zap{sugar: z.Sugar()}
}

// Log implements Logger.
func (l *Zap) Log(msg string, details ...interface{}) {
	if len(details) == 0 {
		l.sugar.Info(msg)
		return
	}
	l.sugar.Infow(msg, "details", details)
}

// Discard is a Logger that drops everything, used where the caller
// hasn't wired a real sink (tests, examples).
type Discard struct{}

// Log implements Logger.
func (Discard) Log(msg string, details ...interface{}) {}
