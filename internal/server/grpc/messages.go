package grpc

import (
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/cseek11/VeroSuite-sub002/internal/server/services"
)

type CreateRegionRequest = services.CreateRegionInput

type UpdateRegionRequest struct {
	RegionID string `json:"regionId"`
	services.UpdateRegionInput
}

type RegionIDRequest struct {
	RegionID string `json:"regionId"`
}

type LayoutIDRequest struct {
	LayoutID string `json:"layoutId"`
}

type ReorderRegionsRequest struct {
	LayoutID string   `json:"layoutId"`
	Order    []string `json:"order"`
}

type GetLayoutHistoryRequest struct {
	LayoutID string `json:"layoutId"`
	Limit    int    `json:"limit,omitempty"`
}

type CheckRegionPermissionRequest struct {
	RegionID string        `json:"regionId"`
	Action   models.Action `json:"action"`
}

type GrantRegionPermissionRequest struct {
	RegionID      string               `json:"regionId"`
	PrincipalType models.PrincipalType `json:"principalType"`
	PrincipalID   string               `json:"principalId"`
	Permissions   models.PermissionSet `json:"permissions"`
}

type RegionResponse struct {
	Region *models.Region `json:"region"`
}

type RegionsResponse struct {
	Regions []*models.Region `json:"regions"`
}

type HistoryResponse struct {
	Events []*models.Event `json:"events"`
}

type PermissionResponse struct {
	Allowed bool `json:"allowed"`
}

type Empty struct{}
