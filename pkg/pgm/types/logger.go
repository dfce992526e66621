package types

// Logger is the logging contract every subsystem depends on. Shaped
// after the teacher's definition.Logger so subsystems never import a
// concrete logging library directly.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})
}

// IDGenerator produces opaque unique identifiers; the endpoint uses
// it for its global-source-id. Kept as an interface so tests can
// substitute a deterministic generator.
type IDGenerator interface {
	Generate() [6]byte
}

// MetricsSink receives best-effort counters from the transport. A nil
// MetricsSink is valid everywhere; subsystems must treat it as a no-op.
type MetricsSink interface {
	IncCounter(name string, labels map[string]string)
	ObserveGauge(name string, value float64, labels map[string]string)
}

// NopMetrics is the zero-cost MetricsSink used when none is configured.
type NopMetrics struct{}

func (NopMetrics) IncCounter(string, map[string]string)         {}
func (NopMetrics) ObserveGauge(string, float64, map[string]string) {}
