package clocksync

import "log/slog"

// Notifier receives user-facing messages produced by background work.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Error(msg string, err error)
}

// NopNotifier discards every message.
type NopNotifier struct{}

func (NopNotifier) Info(string)         {}
func (NopNotifier) Success(string)      {}
func (NopNotifier) Error(string, error) {}

// LogNotifier forwards messages to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n LogNotifier) Info(msg string) {
	n.logger().Info(msg)
}

func (n LogNotifier) Success(msg string) {
	n.logger().Info(msg, "success", true)
}

func (n LogNotifier) Error(msg string, err error) {
	n.logger().Error(msg, "error", err)
}
