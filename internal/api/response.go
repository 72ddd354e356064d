package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nitesh/meal_match/internal/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// respondError writes the error envelope with the status mapped from err.
func respondError(c *gin.Context, err error) {
	status, code := apperr.Status(err)
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: err.Error(), Code: code}})
}

func abortError(c *gin.Context, err error) {
	status, code := apperr.Status(err)
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: err.Error(), Code: code}})
}

func respondList(c *gin.Context, data any, count int) {
	c.JSON(http.StatusOK, gin.H{
		"meta": gin.H{"count": count},
		"data": data,
	})
}
