package logger

import "fmt"

// retryableHTTPLogger satisfies go-retryablehttp's Logger.
type retryableHTTPLogger struct {
	logger *Logger
}

func (l *Logger) GetRetryableHTTPLogger() *retryableHTTPLogger {
	return &retryableHTTPLogger{logger: l}
}

func (r *retryableHTTPLogger) Printf(format string, v ...interface{}) {
	r.logger.Debugw("provider http", "detail", fmt.Sprintf(format, v...))
}

// gormWriter satisfies gorm's logger.Writer.
type gormWriter struct {
	logger *Logger
}

func (l *Logger) GetGormWriter() *gormWriter {
	return &gormWriter{logger: l}
}

func (g *gormWriter) Printf(format string, args ...interface{}) {
	g.logger.Debugw("gorm_query", "query", fmt.Sprintf(format, args...))
}
