// Package logger is the service-wide structured logger: zap for stdout and an
// optional fluentd forwarder for the log pipeline.
package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/elementojuris/billing/internal/config"
	"github.com/elementojuris/billing/internal/types"
	"github.com/fluent/fluent-logger-golang/fluent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const fluentdTag = "billing.logs"

// Logger embeds zap's sugared logger. The *w methods also forward the entry
// to fluentd when a forwarder is configured.
type Logger struct {
	*zap.SugaredLogger
	forward *forwarder
}

// forwarder posts entries to fluentd. ctxFields are the fields bound by With
// calls, which zap keeps internally and fluentd would otherwise lose.
type forwarder struct {
	client    *fluent.Fluent
	service   string
	ctxFields map[string]interface{}
}

func NewLogger(cfg *config.Configuration) (*Logger, error) {
	zapCfg := zap.NewProductionConfig()
	switch lvl := cfg.Logging.Level; {
	case lvl == types.LogLevelDebug:
		zapCfg = zap.NewDevelopmentConfig()
	case lvl != "":
		level, err := zapcore.ParseLevel(string(lvl))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", lvl, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.DisableStacktrace = true
	zapCfg.InitialFields = map[string]interface{}{"service": "billing"}

	zl, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	l := &Logger{SugaredLogger: zl.Sugar()}

	if !cfg.Logging.FluentdEnabled {
		return l, nil
	}
	if cfg.Logging.FluentdHost == "" || cfg.Logging.FluentdPort <= 0 {
		l.SugaredLogger.Warnw("fluentd enabled without host and port, logging to stdout only")
		return l, nil
	}

	client, err := fluent.New(fluent.Config{
		FluentHost:   cfg.Logging.FluentdHost,
		FluentPort:   cfg.Logging.FluentdPort,
		Async:        true,
		BufferLimit:  4 * 1024 * 1024,
		WriteTimeout: 3 * time.Second,
		RetryWait:    500,
		MaxRetry:     5,
	})
	if err != nil {
		l.SugaredLogger.Warnw("fluentd unavailable, logging to stdout only", "error", err)
		return l, nil
	}
	l.forward = &forwarder{client: client, service: string(cfg.Deployment.Mode)}
	l.SugaredLogger.Infow("fluentd forwarding enabled",
		"host", cfg.Logging.FluentdHost,
		"port", cfg.Logging.FluentdPort)
	return l, nil
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// WithContext binds the request, tenant and user ids carried by ctx.
// Missing ids are omitted.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var kv []interface{}
	if id := types.GetRequestID(ctx); id != "" {
		kv = append(kv, "request_id", id)
	}
	if id := types.GetTenantID(ctx); id != "" {
		kv = append(kv, "tenant_id", id)
	}
	if id := types.GetUserID(ctx); id != "" {
		kv = append(kv, "user_id", id)
	}
	return l.with(kv...)
}

// WithTenant tags entries with tenantID, for work outside an authenticated
// request such as sweeps and webhooks.
func (l *Logger) WithTenant(tenantID string) *Logger {
	return l.with("tenant_id", tenantID)
}

func (l *Logger) with(kv ...interface{}) *Logger {
	if len(kv) == 0 {
		return l
	}
	child := &Logger{SugaredLogger: l.SugaredLogger.With(kv...)}
	if l.forward != nil {
		fields := pairs(kv)
		for k, v := range l.forward.ctxFields {
			if _, ok := fields[k]; !ok {
				fields[k] = v
			}
		}
		child.forward = &forwarder{client: l.forward.client, service: l.forward.service, ctxFields: fields}
	}
	return child
}

func (l *Logger) Debugw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, keysAndValues...)
	l.post(zapcore.DebugLevel, msg, keysAndValues)
}

func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, keysAndValues...)
	l.post(zapcore.InfoLevel, msg, keysAndValues)
}

func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, keysAndValues...)
	l.post(zapcore.WarnLevel, msg, keysAndValues)
}

func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
	l.post(zapcore.ErrorLevel, msg, keysAndValues)
}

func (l *Logger) post(level zapcore.Level, msg string, kv []interface{}) {
	if l.forward == nil || !l.SugaredLogger.Desugar().Core().Enabled(level) {
		return
	}
	record := pairs(kv)
	for k, v := range l.forward.ctxFields {
		if _, ok := record[k]; !ok {
			record[k] = v
		}
	}
	for k, v := range record {
		if err, ok := v.(error); ok {
			record[k] = err.Error()
		}
	}
	record["level"] = level.String()
	record["message"] = msg
	record["service"] = l.forward.service
	record["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	if err := l.forward.client.Post(fluentdTag, record); err != nil {
		l.SugaredLogger.Warnw("fluentd post failed", "error", err)
	}
}

// pairs turns alternating keys and values into a map, skipping non-string
// keys and a trailing key without a value.
func pairs(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			out[key] = kv[i+1]
		}
	}
	return out
}

// Sync flushes zap and closes the fluentd connection.
func (l *Logger) Sync() error {
	if l.forward != nil {
		_ = l.forward.client.Close()
	}
	return l.SugaredLogger.Sync()
}
