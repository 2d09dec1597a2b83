package handler

import (
	"github.com/gin-gonic/gin"

	"legalrag/internal/app"
	"legalrag/internal/model"
	"legalrag/internal/transport/http/response"
)

// ConfigHandler exposes the runtime settings. Values are validated by the
// settings store, not by gin binding, so both paths report the same fields.
type ConfigHandler struct {
	admin *app.AdminService
}

func NewConfigHandler(admin *app.AdminService) *ConfigHandler {
	return &ConfigHandler{admin: admin}
}

func (h *ConfigHandler) All(c *gin.Context) {
	response.OK(c, h.admin.GetAll())
}

func (h *ConfigHandler) GetChunking(c *gin.Context) {
	response.OK(c, h.admin.GetChunking())
}

func (h *ConfigHandler) PutChunking(c *gin.Context) {
	in := h.admin.GetChunking()
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request payload", err)
		return
	}
	update, err := h.admin.SetChunking(in)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, update)
}

func (h *ConfigHandler) GetRetrieval(c *gin.Context) {
	response.OK(c, h.admin.GetRetrieval())
}

func (h *ConfigHandler) PutRetrieval(c *gin.Context) {
	in := h.admin.GetRetrieval()
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request payload", err)
		return
	}
	update, err := h.admin.SetRetrieval(in)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, update)
}

func (h *ConfigHandler) GetEmbedding(c *gin.Context) {
	response.OK(c, h.admin.GetEmbedding())
}

func (h *ConfigHandler) PutEmbedding(c *gin.Context) {
	var in model.EmbeddingConfig
	current := h.admin.GetEmbedding()
	in.Provider = current.Provider
	in.Device = current.Device
	in.Normalize = current.Normalize
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request payload", err)
		return
	}
	update, err := h.admin.SetEmbedding(c.Request.Context(), in)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, update)
}
