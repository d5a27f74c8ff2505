package worker

import (
	"github.com/elementojuris/billing/internal/logger"
	"go.temporal.io/sdk/log"
)

// LogAdapter routes SDK logs into the service logger.
type LogAdapter struct {
	l *logger.Logger
}

var _ log.Logger = (*LogAdapter)(nil)

func NewLogAdapter(l *logger.Logger) *LogAdapter {
	return &LogAdapter{l: l}
}

func (a *LogAdapter) Debug(msg string, keyvals ...interface{}) { a.l.Debugw(msg, keyvals...) }
func (a *LogAdapter) Info(msg string, keyvals ...interface{})  { a.l.Infow(msg, keyvals...) }
func (a *LogAdapter) Warn(msg string, keyvals ...interface{})  { a.l.Warnw(msg, keyvals...) }
func (a *LogAdapter) Error(msg string, keyvals ...interface{}) { a.l.Errorw(msg, keyvals...) }
