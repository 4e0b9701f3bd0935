package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Martian-dev/watchlane/internal/dashboard"
	"github.com/Martian-dev/watchlane/internal/sync"
)

type createOrganizationRequest struct {
	Name string `json:"name"`
}

func (h *handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) readyz(c *gin.Context) {
	if err := h.Store.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("Store not ready", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) listOrganizations(c *gin.Context) {
	memberships, err := h.Store.ListMemberships(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, memberships)
}

func (h *handler) createOrganization(c *gin.Context) {
	var req createOrganizationRequest
	_ = c.ShouldBindJSON(&req)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Organization name is required"})
		return
	}

	m, err := h.Store.CreateOrganization(c.Request.Context(), name, c.GetString(ctxUserID))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":   m.OrganizationID,
		"name": m.OrganizationName,
		"role": m.Role,
	})
}

func (h *handler) syncNow(c *gin.Context) {
	userID := c.GetString(ctxUserID)
	report, err := h.Syncer.SyncAccountsForUser(c.Request.Context(), userID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": report.Count(sync.StatusSuccess),
		"failed":  report.Count(sync.StatusFailed),
		"busy":    report.Count(sync.StatusBusy),
		"results": report.Results,
	})
}

// dashboardMetrics returns one object when an organization is selected and a tagged list otherwise.
func (h *handler) dashboardMetrics(c *gin.Context) {
	r, err := dashboard.ParseRange(c.Query("startDate"), c.Query("endDate"), h.Dashboard.Now())
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	orgID := selectedOrg(c)
	list, err := h.Dashboard.ComputeForUser(c.Request.Context(), c.GetString(ctxUserID), orgID, r, c.Query("repId"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	if orgID != "" && len(list) == 1 {
		c.JSON(http.StatusOK, list[0])
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) dashboardSummary(c *gin.Context) {
	s, err := h.Dashboard.Summary(c.Request.Context(), membership(c).OrganizationID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}
