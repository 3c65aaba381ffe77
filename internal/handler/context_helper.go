package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillbridge/tpm-api/internal/middleware"
	"github.com/skillbridge/tpm-api/internal/models"
)

func scopeFromContext(c *gin.Context) (models.Scope, bool) {
	return middleware.ScopeFromContext(c)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func queryDate(c *gin.Context, key string) *time.Time {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil
	}
	return &parsed
}
