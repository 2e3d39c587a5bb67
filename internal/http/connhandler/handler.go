package connhandler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"wschat/internal/registry"
	"wschat/internal/services/chat"
)

const maxPushBody = 32 << 10

// Kicker closes a connection wherever it is held.
type Kicker interface {
	Kick(ctx context.Context, node, connectionID, reason string) error
}

type Handler struct {
	reg    registry.Registry
	svc    chat.IChatService
	kicker Kicker
}

func New(reg registry.Registry, svc chat.IChatService, kicker Kicker) *Handler {
	return &Handler{reg: reg, svc: svc, kicker: kicker}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/connections", h.list)
	r.GET("/connections/:id", h.info)
	r.POST("/connections/:id", h.push)
	r.DELETE("/connections/:id", h.disconnect)
}

// @Summary		List connections
// @Description	Returns the currently registered connections (unordered).
// @Tags			Connections
// @Param			limit	query		int	false	"Max results (0‑1000)"	minimum(0)	maximum(1000)	default(100)
// @Success		200		{array}		ConnectionDTO
// @Failure		400		{object}	ErrorResponse
// @Failure		503		{object}	ErrorResponse
// @Router			/connections [get]
func (h *Handler) list(c *gin.Context) {
	var q ListConnectionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	out := make([]ConnectionDTO, 0)
	for rec, err := range h.reg.ListAll(c.Request.Context()) {
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
			return
		}
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		out = append(out, toDTO(rec))
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Get connection
// @Description	Returns a single registered connection.
// @Tags			Connections
// @Param			id	path		string	true	"Connection ID"
// @Success		200	{object}	ConnectionDTO
// @Failure		404	{object}	ErrorResponse
// @Router			/connections/{id} [get]
func (h *Handler) info(c *gin.Context) {
	rec, err := h.reg.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, toDTO(rec))
}

// @Summary		Push to a connection
// @Description	Sends the raw request body as one text frame to the connection.
// @Tags			Connections
// @Param			id		path	string	true	"Connection ID"
// @Param			body	body	string	true	"Frame payload"
// @Success		200	{object}	PushResponse
// @Failure		404	{object}	ErrorResponse
// @Failure		410	{object}	ErrorResponse
// @Failure		502	{object}	ErrorResponse
// @Router			/connections/{id} [post]
func (h *Handler) push(ginCtx *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(ginCtx.Request.Body, maxPushBody))
	if err != nil || len(data) == 0 {
		ginCtx.JSON(http.StatusBadRequest, ErrorResponse{Error: "request body required"})
		return
	}

	outcome, err := h.svc.PushTo(ginCtx.Request.Context(), ginCtx.Param("id"), data)
	if err != nil {
		ginCtx.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}
	switch outcome {
	case chat.Delivered:
		ginCtx.JSON(http.StatusOK, PushResponse{Outcome: outcome.String()})
	case chat.StaleTarget:
		ginCtx.JSON(http.StatusGone, ErrorResponse{Error: "connection gone"})
	default:
		ginCtx.JSON(http.StatusBadGateway, ErrorResponse{Error: "delivery failed"})
	}
}

// @Summary		Disconnect a connection
// @Description	Closes the socket and removes the connection from the registry.
// @Tags			Connections
// @Param			id	path	string	true	"Connection ID"
// @Success		204
// @Failure		404	{object}	ErrorResponse
// @Failure		503	{object}	ErrorResponse
// @Router			/connections/{id} [delete]
func (h *Handler) disconnect(ginCtx *gin.Context) {
	ctx := ginCtx.Request.Context()
	id := ginCtx.Param("id")

	rec, err := h.reg.Get(ctx, id)
	if err != nil {
		ginCtx.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.kicker.Kick(ctx, rec.Node, id, "disconnected by server"); err != nil {
		ginCtx.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.svc.OnDisconnect(ctx, id); err != nil {
		ginCtx.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.Status(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
