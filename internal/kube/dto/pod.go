package dto

type PodListItemDTO struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Node      string            `json:"node,omitempty"`
	Phase     string            `json:"phase"`
	Ready     string            `json:"ready"`
	Restarts  int32             `json:"restarts"`
	Labels    map[string]string `json:"labels,omitempty"`
	AgeSec    int64             `json:"ageSec"`
}
