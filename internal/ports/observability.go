package ports

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	// SetGauge sets the named gauge for one output stream.
	SetGauge(name, stream string, v float64)

	RecordDrop(stream string, seq uint64, reason string)
}

type Field struct {
	Key   string
	Value any
}
