package dto

// ResourceItemDTO is the uniform list shape used by tree categories that are
// not part of the cached primary collections.
type ResourceItemDTO struct {
	Kind        string `json:"kind"`
	APIVersion  string `json:"apiVersion"`
	Name        string `json:"name"`
	Namespace   string `json:"namespace,omitempty"`
	Status      string `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
	// Selector is the workload pod selector, when the kind has one.
	Selector map[string]string `json:"selector,omitempty"`
	AgeSec   int64             `json:"ageSec"`
}
