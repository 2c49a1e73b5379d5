package rules

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tmorrow/claimcore/internal/idgen"
	"github.com/tmorrow/claimcore/internal/validation"
)

// Handler provides HTTP endpoints for rule catalog administration.
type Handler struct {
	catalog Catalog
}

// NewHandler creates a new rules handler.
func NewHandler(catalog Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// RegisterRoutes sets up public (read-only) rule routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/rules", h.ListRules)
	r.GET("/rules/:id", h.GetRule)
}

// RegisterAdminRoutes sets up admin-only rule routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/rules", h.UpsertRule)
	r.PUT("/rules/:id", h.UpsertRule)
	r.POST("/rules/:id/activate", h.setActive(true))
	r.POST("/rules/:id/deactivate", h.setActive(false))
}

// ListRules handles GET /v1/rules
func (h *Handler) ListRules(c *gin.Context) {
	list, err := h.catalog.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list rules",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": list, "count": len(list)})
}

// GetRule handles GET /v1/rules/:id
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Rule not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "get_failed",
			"message": "Failed to load rule",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

// upsertRequest is the admin payload for creating or replacing a rule.
type upsertRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Type        Type     `json:"type" binding:"required"`
	Priority    Priority `json:"priority" binding:"required"`
	Active      *bool    `json:"active"`
	Params      Params   `json:"params"`
}

// UpsertRule handles POST /v1/rules and PUT /v1/rules/:id
func (h *Handler) UpsertRule(c *gin.Context) {
	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, validation.MaxStringLength),
		validation.MaxLength("description", req.Description, validation.MaxStringLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	id := c.Param("id")
	if id == "" {
		id = idgen.WithPrefix("rule")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rule := &Rule{
		ID:          id,
		Name:        validation.SanitizeString(req.Name, validation.MaxStringLength),
		Description: validation.SanitizeString(req.Description, validation.MaxStringLength),
		Type:        req.Type,
		Priority:    req.Priority,
		Active:      active,
		Params:      req.Params,
	}

	if err := h.catalog.Upsert(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_rule",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

// setActive returns a handler for POST /v1/rules/:id/activate|deactivate
func (h *Handler) setActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		rule, err := h.catalog.SetActive(c.Request.Context(), c.Param("id"), active)
		if err != nil {
			if errors.Is(err, ErrRuleNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error":   "not_found",
					"message": "Rule not found",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "update_failed",
				"message": "Failed to update rule",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rule": rule})
	}
}
