package ports

// Metric names understood by every Observability backend.
const (
	MetricBlocksReceived   = "beamflow_blocks_received_total"
	MetricStationsExcluded = "beamflow_stations_excluded_total"
	MetricAssemblerDropped = "beamflow_assembler_dropped_total"
	MetricQueueDropped     = "beamflow_queue_dropped_total"
	MetricItemsWritten     = "beamflow_items_written_total"
	MetricSinkFailures     = "beamflow_sink_failures_total"
	MetricQueueLength      = "beamflow_queue_length"
	MetricPoolAvailable    = "beamflow_pool_available"
	MetricSinkLatency      = "beamflow_sink_latency_seconds"
)
