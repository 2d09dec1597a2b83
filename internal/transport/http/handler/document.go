package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"legalrag/internal/app"
	"legalrag/internal/transport/http/response"
)

type DocumentHandler struct {
	admin          *app.AdminService
	maxUploadBytes int64
}

type DeleteDocumentRequest struct {
	Filename string  `json:"filename" form:"filename" binding:"required"`
	Folder   *string `json:"folder" form:"folder"`
}

type ReprocessRequest struct {
	Filename     string  `json:"filename" binding:"required"`
	Folder       *string `json:"folder"`
	ChunkSize    *int    `json:"chunk_size"`
	ChunkOverlap *int    `json:"chunk_overlap"`
	Separator    *string `json:"separator"`
}

func NewDocumentHandler(admin *app.AdminService, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{admin: admin, maxUploadBytes: maxUploadBytes}
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusBadRequest, response.CodeValidation,
				fmt.Sprintf("file exceeds the %d MB upload limit", h.maxUploadBytes>>20), nil)
			return
		}
		response.BadRequest(c, "multipart field \"file\" is required", err)
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		response.Error(c, http.StatusBadRequest, response.CodeValidation,
			fmt.Sprintf("file exceeds the %d MB upload limit", h.maxUploadBytes>>20), nil)
		return
	}

	chunkSize, err := optionalInt(c.PostForm("chunk_size"))
	if err != nil {
		response.BadRequest(c, "chunk_size must be an integer", err)
		return
	}
	chunkOverlap, err := optionalInt(c.PostForm("chunk_overlap"))
	if err != nil {
		response.BadRequest(c, "chunk_overlap must be an integer", err)
		return
	}
	overwrite := false
	if raw := strings.TrimSpace(c.PostForm("overwrite")); raw != "" {
		if overwrite, err = strconv.ParseBool(raw); err != nil {
			response.BadRequest(c, "overwrite must be a boolean", err)
			return
		}
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, "read uploaded file failed", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		response.BadRequest(c, "read uploaded file failed", err)
		return
	}

	result, err := h.admin.Upload(c.Request.Context(), app.UploadInput{
		Filename:     fileHeader.Filename,
		DocumentType: strings.TrimSpace(c.PostForm("document_type")),
		Data:         data,
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Overwrite:    overwrite,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, result)
}

func optionalInt(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (h *DocumentHandler) List(c *gin.Context) {
	var folder *string
	if f, ok := c.GetQuery("folder"); ok {
		folder = &f
	}
	list, err := h.admin.ListDocuments(c.Request.Context(), folder)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, list)
}

// Delete accepts the target in a JSON body or, for clients that cannot send
// a DELETE body, in the query string.
func (h *DocumentHandler) Delete(c *gin.Context) {
	var req DeleteDocumentRequest
	var err error
	if c.Request.ContentLength > 0 {
		err = c.ShouldBindJSON(&req)
	} else {
		err = c.ShouldBindQuery(&req)
	}
	if err != nil {
		response.BadRequest(c, "filename is required", err)
		return
	}

	result, err := h.admin.DeleteDocument(c.Request.Context(), req.Filename, req.Folder)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	var req ReprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request payload", err)
		return
	}
	result, err := h.admin.Reprocess(c.Request.Context(), app.ReprocessInput{
		Filename:     req.Filename,
		Folder:       req.Folder,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
		Separator:    req.Separator,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, result)
}
