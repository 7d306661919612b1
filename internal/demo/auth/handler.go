package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

// LoginHandler issues a bearer token for whatever display name the
// caller supplies. There is no password check: the channel-socket layer
// leaves authentication to the surrounding HTTP pipeline, and this
// demo's pipeline is the simplest thing that can assign a uid to push
// to.
func (i *Issuer) LoginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "display_name is required"})
		return
	}
	token, err := i.Issue(req.DisplayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "uid": req.DisplayName})
}
