package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/examily/examily-backend/internal/attempt"
	"github.com/examily/examily-backend/internal/middleware"
	"github.com/examily/examily-backend/internal/response"
	"github.com/examily/examily-backend/internal/service"
)

// errorStatus maps domain errors to an HTTP status and error code.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, attempt.ErrUnauthenticated):
		return http.StatusUnauthorized, response.ErrTokenRequired
	case errors.Is(err, attempt.ErrForbidden):
		return http.StatusForbidden, response.ErrStudentAccessOnly
	case errors.Is(err, service.ErrNotExamAuthor):
		return http.StatusForbidden, response.ErrNotExamAuthor
	case errors.Is(err, service.ErrCourseNotFound):
		return http.StatusNotFound, response.ErrCourseNotFound
	case errors.Is(err, attempt.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrExamHasAttempts):
		return http.StatusConflict, response.ErrDependencyExists
	case errors.Is(err, service.ErrResultNotReady):
		return http.StatusConflict, response.ErrResultNotReady
	case errors.Is(err, attempt.ErrCompleted):
		return http.StatusConflict, response.ErrAttemptCompleted
	case errors.Is(err, attempt.ErrNotActive):
		return http.StatusConflict, response.ErrAttemptNotActive
	case errors.Is(err, attempt.ErrTimeUp):
		return http.StatusConflict, response.ErrTimeUp
	case errors.Is(err, attempt.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	case errors.Is(err, attempt.ErrPersistence):
		return http.StatusServiceUnavailable, response.ErrSubmitUnavailable
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failWith writes the envelope for err, logging unexpected errors.
func failWith(c *gin.Context, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, verr.Fields)
		return
	}

	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	response.Fail(c, status, code)
}

// sessionOf turns the request's claims into the controller's user identity.
func sessionOf(c *gin.Context) (attempt.Session, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return attempt.Session{}, false
	}
	return attempt.Session{UserID: claims.UserID, Role: claims.Role}, true
}

// paramUUID parses a UUID path parameter, failing the request if malformed.
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
