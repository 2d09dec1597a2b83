package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"legalrag/internal/app"
	"legalrag/internal/transport/http/response"
)

const defaultSearchK = 5

type VectorStoreHandler struct {
	admin *app.AdminService
}

type SearchRequest struct {
	Query          string   `json:"query" binding:"required"`
	K              *int     `json:"k"`
	ScoreThreshold *float64 `json:"score_threshold"`
}

type RetrieveRequest struct {
	Query string `json:"query" binding:"required"`
}

type RebuildRequest struct {
	Confirm      bool     `json:"confirm"`
	ChunkSize    *int     `json:"chunk_size"`
	ChunkOverlap *int     `json:"chunk_overlap"`
	Folders      []string `json:"folders"`
}

type ClearRequest struct {
	ConfirmToken string `json:"confirm_token" form:"confirm_token"`
}

func NewVectorStoreHandler(admin *app.AdminService) *VectorStoreHandler {
	return &VectorStoreHandler{admin: admin}
}

func (h *VectorStoreHandler) Stats(c *gin.Context) {
	stats, err := h.admin.Stats(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, stats)
}

func (h *VectorStoreHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "query is required", err)
		return
	}
	k := defaultSearchK
	if req.K != nil {
		k = *req.K
	}
	result, err := h.admin.Search(c.Request.Context(), app.SearchInput{
		Query:          req.Query,
		K:              k,
		ScoreThreshold: req.ScoreThreshold,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *VectorStoreHandler) Retrieve(c *gin.Context) {
	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "query is required", err)
		return
	}
	result, err := h.admin.Retrieve(c.Request.Context(), req.Query)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *VectorStoreHandler) Rebuild(c *gin.Context) {
	var req RebuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request payload", err)
		return
	}
	started, err := h.admin.Rebuild(c.Request.Context(), app.RebuildInput{
		Confirm:      req.Confirm,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
		Folders:      req.Folders,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, started)
}

func (h *VectorStoreHandler) RebuildStatus(c *gin.Context) {
	job, err := h.admin.RebuildStatus(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, job)
}

func (h *VectorStoreHandler) Clear(c *gin.Context) {
	var req ClearRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request payload", err)
			return
		}
	}
	if req.ConfirmToken == "" {
		req.ConfirmToken = c.Query("confirm_token")
	}
	result, err := h.admin.Clear(c.Request.Context(), req.ConfirmToken)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *VectorStoreHandler) Events(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			response.BadRequest(c, "limit must be a positive integer", err)
			return
		}
		limit = v
	}
	events, err := h.admin.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"events": events, "count": len(events)})
}
