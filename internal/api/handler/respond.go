package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
)

// writeError maps service errors onto HTTP status codes: ErrNotFound is 404,
// ErrInvalidInput is 400, anything else is 500.
func writeError(c *gin.Context, err error, action string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).WithError(err).Error(action + " failed")
	}
	c.JSON(status, gin.H{"error": action + " failed: " + err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}

// intQuery reads an optional integer query parameter.
func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

func floatQuery(c *gin.Context, key string, def float64) (float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New(key + " must be a number")
	}
	return f, nil
}
