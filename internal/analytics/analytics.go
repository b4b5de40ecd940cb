// Package analytics is the fire-and-forget lifecycle event sink. Emitting an
// event never blocks and never fails the caller.
package analytics

import "go.uber.org/zap"

type Sink interface {
	Emit(event string, fields map[string]any)
}

// ZapSink writes lifecycle events to the structured log. Production
// deployments swap in a real pipeline behind the same interface.
type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	return &ZapSink{log: log.Named("analytics")}
}

func (s *ZapSink) Emit(event string, fields map[string]any) {
	zfields := make([]zap.Field, 0, len(fields)+1)
	zfields = append(zfields, zap.String("event", event))
	for k, v := range fields {
		zfields = append(zfields, zap.Any(k, v))
	}
	s.log.Info("lifecycle", zfields...)
}

type NopSink struct{}

func (NopSink) Emit(string, map[string]any) {}
