package entitlements

// Field is one key/value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the structured logging seam used throughout the decision path.
// The core never logs through a concrete backend; adapters live under
// logger/ (zerolog ships with the module).
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// NoopLogger discards everything. Used when Config.Logger is nil so callers
// never have to nil-check.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
