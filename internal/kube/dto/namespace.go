package dto

type NamespaceListItemDTO struct {
	Name                   string `json:"name"`
	Phase                  string `json:"phase"`
	AgeSec                 int64  `json:"ageSec"`
	HasUnhealthyConditions bool   `json:"hasUnhealthyConditions,omitempty"`
}
