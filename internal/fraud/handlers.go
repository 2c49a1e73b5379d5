package fraud

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for fraud case review.
type Handler struct {
	store Store
}

// NewHandler creates a new fraud handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up fraud review routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/fraud/cases", h.ListCases)
	r.GET("/fraud/claims/:id", h.GetAssessment)
}

// ListCases handles GET /v1/fraud/cases
//
// Without a filter it returns the open review queue: high and critical
// assessments. ?level=low,medium,high,critical overrides.
func (h *Handler) ListCases(c *gin.Context) {
	levels := []RiskLevel{LevelHigh, LevelCritical}
	if raw := c.Query("level"); raw != "" {
		levels = levels[:0]
		for _, part := range strings.Split(raw, ",") {
			switch RiskLevel(strings.TrimSpace(part)) {
			case LevelLow:
				levels = append(levels, LevelLow)
			case LevelMedium:
				levels = append(levels, LevelMedium)
			case LevelHigh:
				levels = append(levels, LevelHigh)
			case LevelCritical:
				levels = append(levels, LevelCritical)
			default:
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_request",
					"message": "Unknown risk level: " + part,
				})
				return
			}
		}
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be between 1 and 1000",
			})
			return
		}
		limit = n
	}

	cases, err := h.store.ListByLevel(c.Request.Context(), levels, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list fraud cases",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases, "count": len(cases)})
}

// GetAssessment handles GET /v1/fraud/claims/:id
func (h *Handler) GetAssessment(c *gin.Context) {
	a, err := h.store.GetByClaim(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrAssessmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No assessment for claim",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "get_failed",
			"message": "Failed to load assessment",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}
