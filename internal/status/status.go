package status

import "time"

// ClusterStatus is raw reachability of a context's API server.
type ClusterStatus int

const (
	Unknown ClusterStatus = iota
	Connected
	Disconnected
)

func (s ClusterStatus) String() string {
	switch s {
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

func (s ClusterStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OperatorMode is the capability class reported by the in-cluster operator.
type OperatorMode string

const (
	ModeBasic    OperatorMode = "Basic"
	ModeOperated OperatorMode = "Operated"
	ModeEnabled  OperatorMode = "Enabled"
	ModeDegraded OperatorMode = "Degraded"
)

// OperatorStatus takes display priority over ClusterStatus when known.
type OperatorStatus struct {
	Mode       OperatorMode `json:"mode"`
	Tier       string       `json:"tier,omitempty"`
	Version    string       `json:"version,omitempty"`
	Health     string       `json:"health,omitempty"`
	LastUpdate time.Time    `json:"lastUpdate,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// ShowsReports reports whether the Reports category applies.
func (s OperatorStatus) ShowsReports() bool {
	return s.Mode != "" && s.Mode != ModeBasic
}
