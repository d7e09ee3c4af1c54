package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trackpoint/api/tracker"
)

// Tracker is the orchestrator contract the HTTP layer depends on.
type Tracker interface {
	Track(ctx context.Context, address, userAgent string) (tracker.Outcome, error)
}

type TrackHandlers struct {
	Tracker Tracker
}

func NewTrackHandlers(t Tracker) *TrackHandlers {
	return &TrackHandlers{Tracker: t}
}

// Health answers the root probe.
func (h *TrackHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Visitor tracking API is running.",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    "ok",
	})
}

// Track records one page view. Bots get the same success response as real
// visitors so the filter stays invisible from outside.
func (h *TrackHandlers) Track(c *gin.Context) {
	address := c.ClientIP()
	userAgent := c.Request.UserAgent()

	// Detached from the request context: a client that aborts mid-flight
	// must not cancel the enrichment call or the pending write.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 15*time.Second)
	defer cancel()

	outcome, err := h.Tracker.Track(ctx, address, userAgent)
	if err != nil {
		log.Printf("Error tracking visitor %s: %v", address, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "An error occurred during tracking.",
		})
		return
	}

	switch outcome {
	case tracker.OutcomeTracked, tracker.OutcomeBotFiltered, tracker.OutcomeAcknowledged:
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Visitor tracked successfully.",
		})
	case tracker.OutcomeRateLimited:
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"message": "Rate limit exceeded",
		})
	case tracker.OutcomeConfigError:
		log.Printf("Tracking request from %s rejected: enrichment API key not configured", address)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "API configuration error.",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "An error occurred during tracking.",
		})
	}
}
