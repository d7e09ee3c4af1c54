package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"trackpoint/api/store"
	"trackpoint/api/tracker"
)

type StatsHandlers struct {
	EventStore   *store.EventStore
	VisitorStore *store.VisitorStore
}

func NewStatsHandlers(eventStore *store.EventStore, visitorStore *store.VisitorStore) *StatsHandlers {
	return &StatsHandlers{
		EventStore:   eventStore,
		VisitorStore: visitorStore,
	}
}

// parseTimeRange reads optional start/end query params, defaulting to the
// last 7 days.
func parseTimeRange(c *gin.Context) (start, end time.Time, ok bool) {
	var err error

	startParam := c.Query("start")
	if startParam != "" {
		start, err = time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	} else {
		start = time.Now().UTC().Add(-7 * 24 * time.Hour)
	}

	endParam := c.Query("end")
	if endParam != "" {
		end, err = time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	} else {
		end = time.Now().UTC()
	}

	return start, end, true
}

func (h *StatsHandlers) GetVisitsOverTime(c *gin.Context) {
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}

	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.EventStore.GetVisitCountsOverTime(ctx, interval, start, end)
	if err != nil {
		log.Printf("Error getting visit counts over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve visit statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetUniqueVisitorsOverTime(c *gin.Context) {
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}

	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.EventStore.GetUniqueVisitorsOverTime(ctx, interval, start, end)
	if err != nil {
		log.Printf("Error getting unique visitors over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique visitor statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetTopCountries(c *gin.Context) {
	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}

	var limit uint64 = 10
	limitParam := c.Query("limit")
	if limitParam != "" {
		parsedLimit, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsedLimit == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsedLimit
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.EventStore.GetTopCountries(ctx, start, end, limit)
	if err != nil {
		log.Printf("Error getting top countries: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top country statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

// GetVisitor is a point lookup of one visitor record by address.
func (h *StatsHandlers) GetVisitor(c *gin.Context) {
	address := tracker.NormalizeAddress(c.Param("address"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	visitor, err := h.VisitorStore.FindByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, store.ErrVisitorNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Visitor not found"})
			return
		}
		log.Printf("Error getting visitor %s: %v", address, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve visitor"})
		return
	}

	c.JSON(http.StatusOK, visitor)
}
