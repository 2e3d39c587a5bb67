package connhandler

import (
	"time"

	"wschat/internal/registry"
)

type ConnectionDTO struct {
	ConnectionID string    `json:"connection_id" example:"5b0c2e9e-3f59-4d8e-9a43-5c3a2a4f0b1e"`
	UserName     string    `json:"user_name"     example:"Alice"`
	Node         string    `json:"node"          example:"node-a"`
	CreatedAt    time.Time `json:"created_at"    example:"2025-07-27T16:05:05Z"`
} // @name Connection

func toDTO(rec registry.ConnectionRecord) ConnectionDTO {
	return ConnectionDTO{
		ConnectionID: rec.ConnectionID,
		UserName:     rec.UserName,
		Node:         rec.Node,
		CreatedAt:    rec.CreatedAt,
	}
}

type ListConnectionsQuery struct {
	Limit int `form:"limit,default=100" binding:"gte=0,lte=1000"`
} // @name ListConnectionsQuery

type PushResponse struct {
	Outcome string `json:"outcome" example:"delivered"`
} // @name PushResponse

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse
