package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"pricely/telemetry/models"
	"pricely/telemetry/store"
	"pricely/telemetry/utils"

	"github.com/gin-gonic/gin"
)

type ReportHandlers struct {
	Summarizer store.Summarizer
}

func NewReportHandlers(summarizer store.Summarizer) *ReportHandlers {
	return &ReportHandlers{Summarizer: summarizer}
}

// Summary assembles the per-user activity report from the named aggregation
// queries. Empty sections mean "no data", not failure; a query error fails
// the whole report with an explicit error payload.
func (h *ReportHandlers) Summary(c *gin.Context) {
	userID := c.Param("userId")

	var limit uint64 = 10
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsed == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = utils.NormalizeLimit(parsed)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	activityCounts, err := h.Summarizer.ActivityCounts(ctx, userID)
	if err != nil {
		h.fail(c, "activity counts", userID, err)
		return
	}

	pageDurations, err := h.Summarizer.PageDurations(ctx, userID)
	if err != nil {
		h.fail(c, "page durations", userID, err)
		return
	}

	phoneViews, err := h.Summarizer.TopEntities(ctx, userID, models.ActionPhoneView, "phoneId", "phoneName", limit)
	if err != nil {
		h.fail(c, "phone views", userID, err)
		return
	}

	productViews, err := h.Summarizer.TopEntities(ctx, userID, models.ActionProductClick, "productId", "productName", limit)
	if err != nil {
		h.fail(c, "product views", userID, err)
		return
	}

	buttonClicks, err := h.Summarizer.TopEntities(ctx, userID, models.ActionButtonClick, "buttonId", "buttonText", limit)
	if err != nil {
		h.fail(c, "button clicks", userID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"summary": gin.H{
			"activityCounts": activityCounts,
			"pageDurations":  pageDurations,
			"phoneViews":     phoneViews,
			"productViews":   productViews,
			"buttonClicks":   buttonClicks,
		},
	})
}

// PhoneHistory reports per-phone view statistics across the user's sessions.
func (h *ReportHandlers) PhoneHistory(c *gin.Context) {
	userID := c.Param("userId")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	history, err := h.Summarizer.PhoneHistory(ctx, userID)
	if err != nil {
		h.fail(c, "phone history", userID, err)
		return
	}
	if history == nil {
		history = []store.PhoneHistoryEntry{}
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "phoneHistory": history})
}

func (h *ReportHandlers) fail(c *gin.Context, section, userID string, err error) {
	log.Printf("Error computing %s for user %s: %v", section, userID, err)
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Failed to compute " + section})
}
