package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"circulation/internal/models"
	"circulation/internal/services"
)

const identityKey = "identity"

// Identity middleware trusts the X-User-ID and X-User-Role headers set by the
// upstream auth layer. Session verification itself happens before requests
// reach this service.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid identity"})
			return
		}

		role := models.Role(c.GetHeader("X-User-Role"))
		if role != models.RoleMember && role != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid role"})
			return
		}

		c.Set(identityKey, services.Identity{UserID: userID, Role: role})
		c.Next()
	}
}

// RequireAdmin aborts with 403 unless the caller is an admin.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identity(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

func identity(c *gin.Context) services.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(services.Identity)
	return id
}
