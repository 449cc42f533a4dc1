package domain

// Metrics is implemented by the telemetry layer. Components treat it as
// optional and never fail on metric recording.
type Metrics interface {
	ObserveCacheHit(category, tier string)
	ObserveCacheMiss(category string)
	ObserveCacheEviction(category, reason string)
	ObserveHealthTransition(from, to ToolState)
	ObserveEventPublished(eventType string)
	ObserveEventReceived(eventType string)
	ObserveEventIgnored(eventType, reason string)
	ObserveRPCReconnect()
	ObserveHeartbeat()
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveCacheHit(string, string)                 {}
func (NopMetrics) ObserveCacheMiss(string)                        {}
func (NopMetrics) ObserveCacheEviction(string, string)            {}
func (NopMetrics) ObserveHealthTransition(ToolState, ToolState)   {}
func (NopMetrics) ObserveEventPublished(string)                   {}
func (NopMetrics) ObserveEventReceived(string)                    {}
func (NopMetrics) ObserveEventIgnored(string, string)             {}
func (NopMetrics) ObserveRPCReconnect()                           {}
func (NopMetrics) ObserveHeartbeat()                              {}

var _ Metrics = NopMetrics{}
