package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/response"
	"github.com/examhall/examhall-backend/internal/service"
)

// RequireCourseRole checks that the authenticated user holds at least
// the given role in the course named by the :course_id route param.
// Services re-check roles against the entity's own course, so this is
// the fast outer gate, not the source of truth.
func RequireCourseRole(authz *service.Authorizer, min model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		courseID, err := strconv.ParseInt(c.Param("course_id"), 10, 64)
		if err != nil {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}

		if err := authz.RequireRole(c.Request.Context(), claims.UserID, courseID, min); err != nil {
			response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}
		c.Next()
	}
}
