package codec

import "time"

// MetricsCollector receives codec level measurements.
type MetricsCollector interface {
	// RecordFlush is called once per flushed field.
	RecordFlush(field string, vectors int, duration time.Duration, err error)

	// RecordMerge is called once per merged field. requantized reports
	// whether quantized codes had to be recomputed.
	RecordMerge(field string, vectors int, requantized bool, duration time.Duration, err error)

	// RecordGraphBuild is called after a graph was built or merged.
	RecordGraphBuild(field string, nodes int, duration time.Duration)

	// RecordSearch is called after each search. visited counts scored vectors.
	RecordSearch(field string, k, visited int, duration time.Duration, err error)
}

// NoopMetricsCollector discards everything.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordFlush(string, int, time.Duration, error)       {}
func (NoopMetricsCollector) RecordMerge(string, int, bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordGraphBuild(string, int, time.Duration)         {}
func (NoopMetricsCollector) RecordSearch(string, int, int, time.Duration, error) {}

// MetricsOrNoop returns m, or a NoopMetricsCollector for nil.
func MetricsOrNoop(m MetricsCollector) MetricsCollector {
	if m == nil {
		return NoopMetricsCollector{}
	}
	return m
}
