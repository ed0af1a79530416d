package dto

type NodeListItemDTO struct {
	Name           string   `json:"name"`
	Status         string   `json:"status"`
	Roles          []string `json:"roles,omitempty"`
	KubeletVersion string   `json:"kubeletVersion,omitempty"`
	Unschedulable  bool     `json:"unschedulable,omitempty"`
	AgeSec         int64    `json:"ageSec"`
}
