package domain

// RPCConfig configures the request/response transport to the remote
// registry endpoint.
type RPCConfig struct {
	Endpoint           string
	DialTimeoutSeconds int
}

// MetricsConfig configures the observability HTTP listener.
type MetricsConfig struct {
	ListenAddress string
}

// RuntimeConfig carries tunables shared by the background loops.
type RuntimeConfig struct {
	CheckIntervalSeconds     int
	FailureThreshold         int
	HeartbeatIntervalSeconds int
	HeartbeatTTLSeconds      int
	ReconcileIntervalSeconds int
	ExecutionGraceSeconds    int
	SweepIntervalSeconds     int
	CacheL1Capacity          int
	EventBufferSize          int
	EssentialTools           []string
	RPC                      RPCConfig
	Metrics                  MetricsConfig
}

// Catalog is the loaded, validated declarative catalog. Replaced wholesale
// on reload; never partially updated.
type Catalog struct {
	Servers map[string]ServerDefinition
	Runtime RuntimeConfig
}

// Server looks up a server definition by id.
func (c Catalog) Server(id string) (ServerDefinition, bool) {
	spec, ok := c.Servers[id]
	return spec, ok
}
