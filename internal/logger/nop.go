package logger

// nopLogger discards all log entries. Used in tests and as a safe default.
type nopLogger struct{}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return &nopLogger{}
}

func (n *nopLogger) Debug(_ string, _ ...Field) {}
func (n *nopLogger) Info(_ string, _ ...Field)  {}
func (n *nopLogger) Warn(_ string, _ ...Field)  {}
func (n *nopLogger) Error(_ string, _ ...Field) {}
func (n *nopLogger) Fatal(_ string, _ ...Field) {}

func (n *nopLogger) With(_ ...Field) Logger { return n }
func (n *nopLogger) Sync() error            { return nil }
