package domain

// ConsistencyReport is the result of comparing a server's declared actions
// against the handlers its process actually registered. Computed on demand
// and never cached.
type ConsistencyReport struct {
	ServerID      string   `json:"server_id"`
	Required      []string `json:"required"`
	Implemented   []string `json:"implemented"`
	Missing       []string `json:"missing"`
	Extra         []string `json:"extra"`
	Consistent    bool     `json:"is_consistent"`
	UnknownServer bool     `json:"unknown_server,omitempty"`
	Suggestions   []string `json:"suggestions,omitempty"`
}
