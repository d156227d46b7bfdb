package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcadmin/mc-admin/internal/auth"
)

type AuthHandler struct {
	auth *auth.Service
}

func NewAuthHandler(service *auth.Service) *AuthHandler {
	return &AuthHandler{auth: service}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges the operator credential for a bearer token
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	token, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		// Always the same shape, no matter which check failed
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	respond(c, http.StatusOK, gin.H{"token": token})
}
