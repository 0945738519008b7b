// Package handler exposes the ledger and the archive node over HTTP.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/ledger"
	"go.uber.org/zap"
)

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, archive.ErrShardUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, archive.ErrNonContiguous):
		return http.StatusConflict
	case errors.Is(err, archive.ErrCapacity):
		return http.StatusInsufficientStorage
	case errors.Is(err, icrc3.ErrEncoding), errors.Is(err, ledger.ErrInvalidAction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// abortWith writes err as {"error": ...}. Server-side failures are logged.
func abortWith(c *gin.Context, logger *zap.Logger, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusInsufficientStorage {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
