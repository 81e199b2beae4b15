package providers

import (
	"context"

	"go.uber.org/zap"

	"github.com/trydex/claude-code-viewer/internal/common/logger"
)

// Log writes notifications to the application log. Useful when no external
// provider is configured.
type Log struct {
	logger *logger.Logger
}

// NewLog creates a log provider.
func NewLog(log *logger.Logger) *Log {
	if log == nil {
		log = logger.Default()
	}
	return &Log{logger: log.WithFields(zap.String("component", "log_notifier"))}
}

func (l *Log) Name() string    { return "log" }
func (l *Log) Available() bool { return true }

func (l *Log) Send(_ context.Context, msg Message) error {
	l.logger.Info("notification",
		zap.String("title", msg.Title),
		zap.String("body", msg.Body))
	return nil
}
