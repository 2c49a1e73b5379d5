package claims

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tmorrow/claimcore/internal/audit"
	"github.com/tmorrow/claimcore/internal/fraud"
	"github.com/tmorrow/claimcore/internal/receipts"
	"github.com/tmorrow/claimcore/internal/validation"
)

// Handler provides the claim intake and review HTTP endpoints.
type Handler struct {
	service  *Service
	auditLog audit.Logger
	receipts receipts.Store
}

// NewHandler creates a new claims handler.
func NewHandler(service *Service, auditLog audit.Logger, receiptStore receipts.Store) *Handler {
	return &Handler{service: service, auditLog: auditLog, receipts: receiptStore}
}

// RegisterRoutes sets up the claim routes. The paths match the intake portal
// this service fronts.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/userform", h.SubmitClaim)
	r.GET("/userform/all", h.ListClaims)
	r.POST("/userform/update-status", h.UpdateStatus)
	r.GET("/userform/status/count", h.StatusCounts)
	r.GET("/userform/:id", h.GetClaim)
	r.GET("/userform/:id/audit", h.GetAuditTrail)
	r.GET("/userform/:id/receipts", h.ListReceipts)
	r.GET("/userform/:id/receipts/:receiptId", h.DownloadReceipt)
}

// SubmitClaim handles POST /v1/userform
//
// Multipart form: policyId, username, claimedAmt, and one or more
// billReceipts file parts. A claim without a receipt is rejected.
func (h *Handler) SubmitClaim(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Expected multipart form data",
		})
		return
	}

	req := SubmitRequest{
		PolicyID: c.PostForm("policyId"),
		Claimant: c.PostForm("username"),
		Amount:   c.PostForm("claimedAmt"),
	}

	for _, fh := range form.File["billReceipts"] {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Could not read uploaded file " + fh.Filename,
			})
			return
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Could not read uploaded file " + fh.Filename,
			})
			return
		}
		req.Receipts = append(req.Receipts, ReceiptUpload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     content,
		})
	}

	result, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ListClaims handles GET /v1/userform/all
func (h *Handler) ListClaims(c *gin.Context) {
	status := Status(c.Query("status"))

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
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "offset must not be negative",
			})
			return
		}
		offset = n
	}

	list, err := h.service.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claims": list, "count": len(list)})
}

// updateStatusRequest is the adjuster decision payload.
type updateStatusRequest struct {
	ID      string `json:"id" binding:"required"`
	Status  Status `json:"claimStatus" binding:"required"`
	Version int64  `json:"version"`
	Actor   string `json:"actor"`
	Reason  string `json:"reason"`
}

// UpdateStatus handles POST /v1/userform/update-status
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	ctx := c.Request.Context()
	actor := validation.SanitizeString(req.Actor, validation.MaxStringLength)
	if actor == "" {
		actor = "adjuster"
	}
	ctx = audit.WithActor(ctx, "adjuster", actor)
	ctx = audit.WithIP(ctx, c.ClientIP())

	claim, err := h.service.Decide(ctx, req.ID, req.Version, req.Status, actor, validation.SanitizeString(req.Reason, validation.MaxStringLength))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claim": claim})
}

// StatusCounts handles GET /v1/userform/status/count
func (h *Handler) StatusCounts(c *gin.Context) {
	counts, err := h.service.Counts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts, "total": counts.Total()})
}

// GetClaim handles GET /v1/userform/:id
func (h *Handler) GetClaim(c *gin.Context) {
	claim, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claim": claim})
}

// GetAuditTrail handles GET /v1/userform/:id/audit
func (h *Handler) GetAuditTrail(c *gin.Context) {
	if h.auditLog == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Audit logging is not enabled",
		})
		return
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

	entries, err := h.auditLog.Query(c.Request.Context(), c.Param("id"),
		time.Time{}, time.Now().UTC().Add(time.Minute), c.Query("operation"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": "Failed to query audit trail",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// ListReceipts handles GET /v1/userform/:id/receipts
func (h *Handler) ListReceipts(c *gin.Context) {
	list, err := h.receipts.ListByClaim(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list receipts",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": list, "count": len(list)})
}

// DownloadReceipt handles GET /v1/userform/:id/receipts/:receiptId
func (h *Handler) DownloadReceipt(c *gin.Context) {
	ctx := c.Request.Context()
	meta, err := h.receipts.Get(ctx, c.Param("receiptId"))
	if err != nil || meta.ClaimID != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Receipt not found",
		})
		return
	}

	content, err := h.receipts.GetContent(ctx, meta.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "get_failed",
			"message": "Failed to load receipt content",
		})
		return
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `attachment; filename="`+meta.Filename+`"`)
	c.Data(http.StatusOK, contentType, content)
}

// writeError maps service errors onto the HTTP taxonomy.
func (h *Handler) writeError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": verrs.Error(),
			"details": verrs,
		})
	case errors.Is(err, ErrClaimNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Claim not found",
		})
	case errors.Is(err, ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "version_conflict",
			"message": "Claim was modified concurrently, re-read and retry",
		})
	case errors.Is(err, ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "illegal_transition",
			"message": err.Error(),
		})
	case errors.Is(err, receipts.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "file_too_large",
			"message": err.Error(),
		})
	case errors.Is(err, receipts.ErrEmptyFile):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, fraud.ErrDependencyTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":   "dependency_timeout",
			"message": "Risk scoring timed out; the claim is pending, resubmit to evaluate it",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Request failed",
		})
	}
}
