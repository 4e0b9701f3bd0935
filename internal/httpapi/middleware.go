package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Martian-dev/watchlane/internal/dashboard"
	"github.com/Martian-dev/watchlane/internal/metrics"
	"github.com/Martian-dev/watchlane/internal/model"
)

const (
	ctxUserID     = "user_id"
	ctxEmail      = "email"
	ctxMembership = "membership"

	orgHeader = "X-Org-Id"
	orgQuery  = "orgId"
)

func (h *handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(status), elapsed)

		h.logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("user_id", c.GetString(ctxUserID)),
		)
	}
}

// authenticate accepts the session cookie or an Authorization: Bearer header.
func (h *handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(h.CookieName)
		if token == "" {
			header := c.GetHeader("Authorization")
			if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
				token = strings.TrimSpace(rest)
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		p, err := h.Verifier.Verify(token)
		if err != nil {
			h.logger.Debug("Rejected token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(ctxUserID, p.UserID)
		c.Set(ctxEmail, p.Email)
		c.Next()
	}
}

func selectedOrg(c *gin.Context) string {
	if id := c.GetHeader(orgHeader); id != "" {
		return id
	}
	return c.Query(orgQuery)
}

// orgContext resolves the organization a request acts on. A single membership is implicit.
func (h *handler) orgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, all, err := h.Dashboard.ResolveOrganization(c.Request.Context(), c.GetString(ctxUserID), selectedOrg(c))
		if err != nil {
			if errors.Is(err, dashboard.ErrAmbiguousOrganization) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":         "Multiple organizations found. Please specify orgId.",
					"organizations": all,
				})
				return
			}
			h.abortWithError(c, err)
			return
		}
		c.Set(ctxMembership, m)
		c.Next()
	}
}

func membership(c *gin.Context) model.Membership {
	m, _ := c.MustGet(ctxMembership).(model.Membership)
	return m
}

// abortWithError maps domain errors onto status codes. Anything unexpected is logged and hidden.
func (h *handler) abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dashboard.ErrInvalidRange):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, dashboard.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied to this organization"})
	case errors.Is(err, dashboard.ErrNoOrganization):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "No organization membership found"})
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("user_id", c.GetString(ctxUserID)),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
