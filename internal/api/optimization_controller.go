package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iaros/optimization-engine/internal/apperr"
	"github.com/iaros/optimization-engine/internal/assignment"
	"github.com/iaros/optimization-engine/internal/models"
	"github.com/iaros/optimization-engine/internal/store"
)

// OptimizationController serves the shop-facing read/assign/impression
// endpoints. Method shape (bind, call service, map error, respond)
// mirrors order_service/src/controllers/order_controller.go.
type OptimizationController struct {
	optimizations *store.OptimizationStore
	assignmentSvc *assignment.Service
	logger        *zap.Logger
}

func NewOptimizationController(optimizations *store.OptimizationStore, assignmentSvc *assignment.Service, logger *zap.Logger) *OptimizationController {
	return &OptimizationController{
		optimizations: optimizations,
		assignmentSvc: assignmentSvc,
		logger:        logger,
	}
}

// ListOptimizations returns every active optimization for a product,
// scoped by the shop query param.
func (c *OptimizationController) ListOptimizations(ctx *gin.Context) {
	shop := ctx.Query("shop")
	if shop == "" {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "shop query parameter is required"})
		return
	}

	productIDStr := ctx.Query("product_id")
	if productIDStr == "" {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "product_id query parameter is required"})
		return
	}
	productID64, err := strconv.ParseUint(productIDStr, 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "product_id must be a positive integer"})
		return
	}
	productID := uint(productID64)

	opts, err := c.optimizations.ActiveOptimizationsByProduct(shop, productID, nil)
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, SuccessResponse{Data: opts})
}

// AssignRequest is the body of POST /assign.
type AssignRequest struct {
	Shop           string `json:"shop" binding:"required"`
	SessionID      string `json:"session_id" binding:"required"`
	OptimizationID uint   `json:"optimization_id" binding:"required"`
}

// Assign resolves (or creates) the sticky variant assignment for a
// session and returns it.
func (c *OptimizationController) Assign(ctx *gin.Context) {
	var req AssignRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	opt, err := c.optimizations.Get(req.Shop, req.OptimizationID)
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	if !opt.IsActive() {
		ctx.JSON(http.StatusNotFound, ErrorResponse{Error: "optimization not found or not active", Code: string(apperr.NotFound)})
		return
	}

	variant, err := c.assignmentSvc.Assign(ctx.Request.Context(), opt, req.Shop, req.SessionID)
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, SuccessResponse{Data: gin.H{"variant": variant}})
}

// ImpressionRequest is the body of POST /impression.
type ImpressionRequest struct {
	Shop           string         `json:"shop" binding:"required"`
	SessionID      string         `json:"session_id" binding:"required"`
	OptimizationID uint           `json:"optimization_id" binding:"required"`
	Variant        models.Variant `json:"variant" binding:"required"`
}

// Impression records that a session viewed a variant.
func (c *OptimizationController) Impression(ctx *gin.Context) {
	var req ImpressionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	if req.Variant != models.VariantControl && req.Variant != models.VariantVariant {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "variant must be 'control' or 'variant'"})
		return
	}

	if err := c.assignmentSvc.RecordImpression(ctx.Request.Context(), req.Shop, req.SessionID, req.OptimizationID, req.Variant); err != nil {
		c.respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// GetAssignments returns every live assignment a session holds.
func (c *OptimizationController) GetAssignments(ctx *gin.Context) {
	shop := ctx.Query("shop")
	sessionID := ctx.Param("session_id")
	if shop == "" || sessionID == "" {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "shop and session_id are required"})
		return
	}

	assignments, err := c.assignmentSvc.AssignmentsForSession(shop, sessionID)
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, SuccessResponse{Data: assignments})
}

// respondError maps an apperr.Error to its HTTP status, matching
// common/utils/ErrorHandling.go's HandleHTTPError without echoing
// internal details for 5xx-class errors.
func (c *OptimizationController) respondError(ctx *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperr.InvalidArgument, apperr.StateConflict, apperr.NotFound, apperr.Unauthorized:
			c.logger.Warn("request failed", zap.String("op", appErr.Operation), zap.Error(appErr))
		default:
			c.logger.Error("request failed", zap.String("op", appErr.Operation), zap.Error(appErr))
		}
		ctx.JSON(appErr.HTTPStatus(), ErrorResponse{
			Error: appErr.Message,
			Code:  string(appErr.Type),
		})
		return
	}

	c.logger.Error("unhandled request error", zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
