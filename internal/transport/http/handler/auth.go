package handler

import (
	"github.com/gin-gonic/gin"

	"legalrag/internal/app"
	"legalrag/internal/transport/http/response"
)

type AuthHandler struct {
	authService *app.AuthService
}

type LoginRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Password string `json:"password" binding:"required,max=128"`
}

func NewAuthHandler(authService *app.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request payload", err)
		return
	}

	result, err := h.authService.Login(app.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, result)
}
