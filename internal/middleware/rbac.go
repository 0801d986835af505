package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/response"
)

// RequireRole rejects requests whose token was issued to another role.
// It must run after RequireJWT or RequireWSAuth.
func RequireRole(role model.Role) gin.HandlerFunc {
	denied := response.ErrForbidden
	switch role {
	case model.RoleTeacher:
		denied = response.ErrTeacherAccessOnly
	case model.RoleStudent:
		denied = response.ErrStudentAccessOnly
	}

	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if claims.Role != role {
			response.AbortFail(c, http.StatusForbidden, denied)
			return
		}

		c.Next()
	}
}
