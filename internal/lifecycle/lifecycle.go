// Package lifecycle is C4: the optimization state machine and the
// Bayesian re-evaluation loop that drives it. Status-transition style
// (guard clause, mutate, touch UpdatedAt) is grounded on
// order_service/src/models/order.go's ConfirmPayment/CancelOrder/
// RefundOrder methods.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iaros/optimization-engine/internal/apperr"
	"github.com/iaros/optimization-engine/internal/bayes"
	"github.com/iaros/optimization-engine/internal/catalog"
	"github.com/iaros/optimization-engine/internal/models"
	"github.com/iaros/optimization-engine/internal/rng"
	"github.com/iaros/optimization-engine/internal/store"
)

// defaultSafetyBudget seeds a draft's safety counter when none was set
// at creation time, matching the budget used throughout spec.md §8's
// seeded scenarios.
const defaultSafetyBudget = 50

// Controller drives optimizations through draft -> active ->
// {paused, completed, cancelled}.
type Controller struct {
	optimizations *store.OptimizationStore
	products      *store.ProductStore
	events        *store.EventStore
	catalogClient catalog.Client
	bayesConfig   bayes.Config
	source        rng.Source
	logger        *zap.Logger
}

// New builds a lifecycle controller.
func New(optimizations *store.OptimizationStore, products *store.ProductStore, events *store.EventStore, catalogClient catalog.Client, bayesConfig bayes.Config, source rng.Source, logger *zap.Logger) *Controller {
	return &Controller{
		optimizations: optimizations,
		products:      products,
		events:        events,
		catalogClient: catalogClient,
		bayesConfig:   bayesConfig,
		source:        source,
		logger:        logger,
	}
}

// Activate transitions a draft optimization to active. It refuses to
// activate a second optimization of the same type against the same
// product while one is already active, per spec §3's "at most one
// active optimization per (shop, product, type)" invariant; calling
// Activate twice on the same already-active row is a no-op, matching
// order_service's "already X" idempotence guard style. Per spec §4.3,
// activation (a) seeds the Bayesian prior from the product's current
// price and (b) for price-type optimizations instructs the catalog
// collaborator to apply the variant price before the transition is
// persisted; a collaborator failure aborts the transition entirely.
func (c *Controller) Activate(ctx context.Context, shop string, optimizationID uint) (*models.Optimization, error) {
	opt, err := c.optimizations.Get(shop, optimizationID)
	if err != nil {
		return nil, err
	}
	if opt.Status == models.StatusActive {
		return opt, nil
	}
	if opt.Status != models.StatusDraft && opt.Status != models.StatusPaused {
		return nil, apperr.NewStateConflict("lifecycle.Activate", fmt.Sprintf("optimization cannot be activated from status %s", opt.Status), fmt.Sprintf("%d", opt.ID))
	}

	if conflictID, found, err := c.optimizations.ConflictingActive(shop, opt.ProductID, opt.OptimizationType, opt.ID); err != nil {
		return nil, err
	} else if found {
		return nil, apperr.NewStateConflict("lifecycle.Activate", "another optimization of this type is already active for this product", fmt.Sprintf("%d", conflictID))
	}

	product, err := c.products.Get(shop, opt.ProductID)
	if err != nil {
		return nil, err
	}

	if opt.OptimizationType == models.OptimizationTypePrice {
		if err := c.catalogClient.ApplyVariant(ctx, catalog.ApplyVariantRequest{
			Shop:               shop,
			ExternalProductID: product.ExternalProductID,
			Field:              string(opt.OptimizationType),
			Value:              opt.VariantData,
		}); err != nil {
			return nil, err
		}
	}

	riskMode := opt.BayesianState.RiskMode
	if riskMode == "" {
		riskMode = models.RiskBalanced
	}
	safetyBudget := opt.BayesianState.SafetyBudget
	if safetyBudget <= 0 {
		safetyBudget = defaultSafetyBudget
	}
	price, _ := product.Price.Float64()
	opt.BayesianState = models.NewBayesianState(price, riskMode, safetyBudget)

	now := time.Now().UTC()
	opt.Status = models.StatusActive
	opt.StartDate = &now
	opt.UpdatedAt = now
	if err := c.optimizations.Update(opt); err != nil {
		return nil, err
	}
	return opt, nil
}

// Pause suspends an active optimization without closing it; resuming
// later continues accumulating the same counters.
func (c *Controller) Pause(shop string, optimizationID uint) (*models.Optimization, error) {
	opt, err := c.optimizations.Get(shop, optimizationID)
	if err != nil {
		return nil, err
	}
	if opt.Status != models.StatusActive {
		return nil, apperr.NewStateConflict("lifecycle.Pause", fmt.Sprintf("only an active optimization can be paused (status %s)", opt.Status), fmt.Sprintf("%d", opt.ID))
	}
	opt.Status = models.StatusPaused
	opt.UpdatedAt = time.Now().UTC()
	if err := c.optimizations.Update(opt); err != nil {
		return nil, err
	}
	return opt, nil
}

// Deactivate closes out an active optimization as completed without an
// automatic promotion verdict — an operator ending the experiment by
// hand. For price-type optimizations it restores the control price via
// the catalog collaborator before persisting the status change, per
// spec §4.3; a collaborator failure aborts the transition.
func (c *Controller) Deactivate(ctx context.Context, shop string, optimizationID uint) (*models.Optimization, error) {
	opt, err := c.optimizations.Get(shop, optimizationID)
	if err != nil {
		return nil, err
	}
	if opt.Status != models.StatusActive {
		return nil, apperr.NewStateConflict("lifecycle.Deactivate", fmt.Sprintf("only an active optimization can be deactivated (status %s)", opt.Status), fmt.Sprintf("%d", opt.ID))
	}

	if opt.OptimizationType == models.OptimizationTypePrice {
		product, err := c.products.Get(shop, opt.ProductID)
		if err != nil {
			return nil, err
		}
		if err := c.catalogClient.RestorePrices(ctx, catalog.ApplyVariantRequest{
			Shop:               shop,
			ExternalProductID: product.ExternalProductID,
			Field:              string(opt.OptimizationType),
			Value:              opt.ControlData,
		}); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	opt.Status = models.StatusCompleted
	opt.EndDate = &now
	opt.UpdatedAt = now
	if err := c.optimizations.Update(opt); err != nil {
		return nil, err
	}
	return opt, nil
}

// Cancel permanently stops an optimization without promoting either
// arm.
func (c *Controller) Cancel(shop string, optimizationID uint) (*models.Optimization, error) {
	opt, err := c.optimizations.Get(shop, optimizationID)
	if err != nil {
		return nil, err
	}
	if opt.Status == models.StatusCompleted || opt.Status == models.StatusCancelled {
		return opt, nil
	}
	now := time.Now().UTC()
	opt.Status = models.StatusCancelled
	opt.EndDate = &now
	opt.UpdatedAt = now
	if err := c.optimizations.Update(opt); err != nil {
		return nil, err
	}
	return opt, nil
}

// Reevaluate runs one Bayesian update pass against the optimization's
// current counters, persists the refreshed allocation and posterior
// state, and — if the verdict calls for it — promotes the winning arm
// into the live catalog or safety-stops the experiment. The attribution
// pipeline enqueues one call per optimization an order credited.
func (c *Controller) Reevaluate(ctx context.Context, shop string, optimizationID uint) (bayes.Result, error) {
	opt, err := c.optimizations.Get(shop, optimizationID)
	if err != nil {
		return bayes.Result{}, err
	}
	if !opt.IsActive() {
		return bayes.Result{}, apperr.NewStateConflict("lifecycle.Reevaluate", fmt.Sprintf("optimization is not active (status %s)", opt.Status), fmt.Sprintf("%d", opt.ID))
	}

	control := bayes.ArmObservation{
		Impressions: opt.ControlImpressions,
		Conversions: opt.ControlConversions,
		Revenue:     opt.ControlRevenue,
	}
	variant := bayes.ArmObservation{
		Impressions: opt.VariantImpressions,
		Conversions: opt.VariantConversions,
		Revenue:     opt.VariantRevenue,
	}
	_, currentVariantShare := opt.NormalizedAllocation()

	result := bayes.Update(opt.BayesianState, control, variant, currentVariantShare, c.bayesConfig, c.source)

	opt.BayesianState = result.State
	opt.ControlAllocation = result.ControlShare * 100
	opt.VariantAllocation = result.VariantShare * 100
	opt.UpdatedAt = time.Now().UTC()

	if result.ShouldPromote {
		if err := c.promote(ctx, opt); err != nil {
			return result, err
		}
	} else if result.ShouldStop {
		now := time.Now().UTC()
		opt.Status = models.StatusCancelled
		opt.EndDate = &now
		opt.ControlAllocation = 100
		opt.VariantAllocation = 0
	}

	if err := c.optimizations.Update(opt); err != nil {
		return result, err
	}

	c.logger.Info("optimization reevaluated",
		zap.String("shop", shop),
		zap.Uint("optimization_id", opt.ID),
		zap.Float64("p_variant_better", result.PVariantBetter),
		zap.Bool("should_promote", result.ShouldPromote),
		zap.Bool("should_stop", result.ShouldStop),
		zap.String("reasoning", result.Reasoning))

	return result, nil
}

// promote applies the variant's content to the live catalog (for
// price-type optimizations only; title/description promotion is a
// catalog no-op recorded purely in the optimization's own state) and
// closes out the optimization as completed.
func (c *Controller) promote(ctx context.Context, opt *models.Optimization) error {
	if opt.OptimizationType == models.OptimizationTypePrice {
		product, err := c.products.Get(opt.Shop, opt.ProductID)
		if err != nil {
			return err
		}
		if err := c.catalogClient.ApplyVariant(ctx, catalog.ApplyVariantRequest{
			Shop:               opt.Shop,
			ExternalProductID: product.ExternalProductID,
			Field:              string(opt.OptimizationType),
			Value:              opt.VariantData,
		}); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	opt.Status = models.StatusCompleted
	opt.EndDate = &now
	opt.ControlAllocation = 0
	opt.VariantAllocation = 100
	return nil
}
