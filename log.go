package nvsim

import "go.uber.org/zap"

// NewLogger builds the structured logger main uses to report config-load,
// trace-load and dump failures. Components take no logger; their
// per-tick events are recorded as counters, not logs.
func NewLogger() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
