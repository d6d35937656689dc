package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dadmatch/dadmatch/internal/database"
	"github.com/dadmatch/dadmatch/internal/services"
	"github.com/dadmatch/dadmatch/internal/telemetry"
)

type handlers struct {
	availability *services.AvailabilityService
	matches      *services.MatchService
}

type setAvailabilityRequest struct {
	Slots []services.SlotEntry `json:"slots"`
}

type toggleSlotRequest struct {
	DayOfWeek int               `json:"day_of_week"`
	TimeSlot  database.TimeSlot `json:"time_slot"`
}

func (h *handlers) setAvailability(c *gin.Context) {
	userID := c.Param("id")

	var req setAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.availability.SetUserAvailability(c.Request.Context(), userID, req.Slots)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *handlers) getAvailability(c *gin.Context) {
	slots, err := h.availability.GetUserAvailability(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if slots == nil {
		slots = []database.AvailabilitySlot{}
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

func (h *handlers) toggleSlot(c *gin.Context) {
	userID := c.Param("id")

	var req toggleSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	active, err := h.availability.ToggleAvailabilitySlot(c.Request.Context(), userID, req.DayOfWeek, req.TimeSlot)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"is_active": active})
}

func (h *handlers) getMatches(c *gin.Context) {
	matches, err := h.matches.GetMatches(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if matches == nil {
		matches = []services.MatchWithUser{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (h *handlers) getMatchesForSlot(c *gin.Context) {
	day, slot, ok := slotQuery(c)
	if !ok {
		return
	}

	matches, err := h.matches.GetMatchesForSlot(c.Request.Context(), c.Param("id"), day, slot)
	if err != nil {
		respondError(c, err)
		return
	}
	if matches == nil {
		matches = []services.MatchWithUser{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (h *handlers) getSlotStatistics(c *gin.Context) {
	day, slot, ok := slotQuery(c)
	if !ok {
		return
	}

	stats, err := h.matches.GetSlotStatistics(c.Request.Context(), c.Param("id"), day, slot)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// slotQuery parses the day/slot query parameters shared by the slot-scoped
// endpoints. Writes the error response itself when parsing fails.
func slotQuery(c *gin.Context) (int, database.TimeSlot, bool) {
	day, err := strconv.Atoi(c.Query("day"))
	if err != nil || day < 0 || day > 6 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "day must be an integer 0..6"})
		return 0, "", false
	}

	slot := database.TimeSlot(c.Query("slot"))
	if !slot.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slot must be one of morning, afternoon, evening, allday"})
		return 0, "", false
	}

	return day, slot, true
}

func respondError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	telemetry.LogFromContext(c.Request.Context()).WithError(err).Error("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
