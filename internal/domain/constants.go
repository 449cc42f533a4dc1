package domain

// Runtime defaults applied when the catalog omits a setting.
const (
	DefaultCheckIntervalSeconds     = 5
	DefaultFailureThreshold         = 3
	DefaultHeartbeatIntervalSeconds = 10
	DefaultHeartbeatTTLSeconds      = 30
	DefaultReconcileIntervalSeconds = 30
	DefaultExecutionGraceSeconds    = 60
	DefaultSweepIntervalSeconds     = 60
	DefaultCacheL1Capacity          = 1024
	DefaultEventBufferSize          = 256
	DefaultRPCDialTimeoutSeconds    = 10
	DefaultMetricsListenAddress     = "127.0.0.1:9464"
)
