package adt

// Logger is the logging capability used by the connection engine.
// Implementations are injected with WithLogger; the default discards
// everything. go.uber.org/zap's SugaredLogger satisfies this interface
// directly.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// nopLogger is the default Logger. It drops all output.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
