package dto

type EventDTO struct {
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Count     int32  `json:"count"`
	Object    string `json:"object"`
	Namespace string `json:"namespace,omitempty"`
	LastSeen  int64  `json:"lastSeen"`
}
