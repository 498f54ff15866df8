// Package attribution is C5: turning an order webhook into revenue
// credited to the variant that earned it. The single-transaction
// idempotency-check-then-credit pattern is grounded on
// order_service/src/repository/order_repository.go's tx.Begin()/
// Rollback()/Commit() usage around multi-row writes.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/iaros/optimization-engine/internal/apperr"
	"github.com/iaros/optimization-engine/internal/lifecycle"
	"github.com/iaros/optimization-engine/internal/models"
	"github.com/iaros/optimization-engine/internal/queue"
	"github.com/iaros/optimization-engine/internal/store"
)

// OrderLineItem is the subset of an order-create webhook payload
// attribution needs: which product sold, at what unit price, and how
// many units. Per spec §4.5 step 5, the credited revenue is
// price*quantity, not the unit price alone.
type OrderLineItem struct {
	ExternalProductID string
	UnitPrice          decimal.Decimal
	Quantity           int64
}

// Revenue is the total line-item revenue, price times quantity.
// Quantity <= 0 is treated as 1 (a webhook that omits quantity still
// credits the unit price once).
func (i OrderLineItem) Revenue() decimal.Decimal {
	qty := i.Quantity
	if qty <= 0 {
		qty = 1
	}
	return i.UnitPrice.Mul(decimal.NewFromInt(qty))
}

// quantityOrOne mirrors Revenue's default so conversion counts and
// revenue always move by the same effective quantity.
func (i OrderLineItem) quantityOrOne() int64 {
	if i.Quantity <= 0 {
		return 1
	}
	return i.Quantity
}

// OrderWebhook is the parsed payload of an order-create delivery.
type OrderWebhook struct {
	Shop            string
	ExternalOrderID string
	SessionID       string
	LineItems       []OrderLineItem
}

// Pipeline credits revenue from completed orders to the optimization
// arm the purchasing session was assigned to.
type Pipeline struct {
	db            *gorm.DB
	optimizations *store.OptimizationStore
	events        *store.EventStore
	assignments   *store.AssignmentStore
	recompute     *queue.Queue
	lifecycle     *lifecycle.Controller
	logger        *zap.Logger
}

// New builds an attribution pipeline.
func New(db *gorm.DB, optimizations *store.OptimizationStore, events *store.EventStore, assignments *store.AssignmentStore, recompute *queue.Queue, lifecycleController *lifecycle.Controller, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:            db,
		optimizations: optimizations,
		events:        events,
		assignments:   assignments,
		recompute:     recompute,
		lifecycle:     lifecycleController,
		logger:        logger,
	}
}

// Apply processes one order webhook. It is idempotent: a retried
// delivery for an already-processed external order id is a no-op, not
// an error, resolving the dedup gap spec.md §9 calls out.
func (p *Pipeline) Apply(ctx context.Context, webhook OrderWebhook) error {
	assignments, err := p.assignments.GetBySession(webhook.Shop, webhook.SessionID)
	if err != nil {
		return err
	}
	if len(assignments) == 0 {
		// No sticky assignment for this session: nothing to attribute.
		return p.markProcessed(webhook)
	}

	byProduct := map[uint]models.SessionAssignment{}
	for _, a := range assignments {
		byProduct[a.OptimizationID] = a
	}

	creditedOptimizations := make([]uint, 0, len(webhook.LineItems))

	err = p.db.Transaction(func(tx *gorm.DB) error {
		processed := &models.ProcessedOrder{Shop: webhook.Shop, ExternalOrderID: webhook.ExternalOrderID}
		if err := tx.Create(processed).Error; err != nil {
			if isDuplicateKeyError(err) {
				return errAlreadyProcessed
			}
			return apperr.NewDataIntegrityError("attribution.Apply", "mark order processed failed", err)
		}

		for _, item := range webhook.LineItems {
			opt, found, err := p.optimizationForProduct(tx, webhook.Shop, item.ExternalProductID)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			assignment, ok := byProduct[opt.ID]
			if !ok {
				continue
			}

			quantity := item.quantityOrOne()
			lineRevenue := item.Revenue()
			if err := p.creditRevenue(tx, webhook.Shop, opt.ID, assignment.Variant, lineRevenue.StringFixed(4), quantity); err != nil {
				return err
			}
			if err := tx.Create(&models.OptimizationConversion{
				Shop:           webhook.Shop,
				OptimizationID: opt.ID,
				SessionID:      webhook.SessionID,
				Variant:        assignment.Variant,
				Revenue:        lineRevenue,
				Quantity:       quantity,
			}).Error; err != nil {
				return apperr.NewDataIntegrityError("attribution.Apply", "insert conversion row failed", err)
			}

			creditedOptimizations = append(creditedOptimizations, opt.ID)
		}
		return nil
	})

	if errors.Is(err, errAlreadyProcessed) {
		p.logger.Info("order webhook already processed, skipping",
			zap.String("shop", webhook.Shop), zap.String("order_id", webhook.ExternalOrderID))
		return nil
	}
	if err != nil {
		return err
	}

	for _, optID := range creditedOptimizations {
		id := optID
		p.recompute.Enqueue(queue.Job{
			Name: "reevaluate-optimization",
			Run: func(ctx context.Context) error {
				_, err := p.lifecycle.Reevaluate(ctx, webhook.Shop, id)
				return err
			},
		})
	}

	return nil
}

func (p *Pipeline) optimizationForProduct(tx *gorm.DB, shop, externalProductID string) (*models.Optimization, bool, error) {
	var product models.Product
	err := tx.Where("shop = ? AND external_product_id = ?", shop, externalProductID).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.NewDataIntegrityError("attribution.optimizationForProduct", "product lookup failed", err)
	}

	var opt models.Optimization
	err = tx.Where("shop = ? AND product_id = ? AND status = ?", shop, product.ID, models.StatusActive).First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.NewDataIntegrityError("attribution.optimizationForProduct", "optimization lookup failed", err)
	}
	return &opt, true, nil
}

// creditRevenue credits quantity conversions and revenue to the
// matched arm in one atomic update, per spec §4.5 step 5 ("credit
// price*quantity") and §5's serializable-counter-update requirement.
func (p *Pipeline) creditRevenue(tx *gorm.DB, shop string, optimizationID uint, variant models.Variant, revenue string, quantity int64) error {
	conversionColumn := "control_conversions"
	revenueColumn := "control_revenue"
	if variant == models.VariantVariant {
		conversionColumn = "variant_conversions"
		revenueColumn = "variant_revenue"
	}
	result := tx.Model(&models.Optimization{}).
		Where("shop = ? AND id = ?", shop, optimizationID).
		Updates(map[string]interface{}{
			"conversions":    gorm.Expr("conversions + ?", quantity),
			conversionColumn: gorm.Expr(conversionColumn + " + ?", quantity),
			"revenue":        gorm.Expr("revenue + ?", revenue),
			revenueColumn:    gorm.Expr(revenueColumn + " + ?", revenue),
		})
	if result.Error != nil {
		return apperr.NewDataIntegrityError("attribution.creditRevenue", "revenue credit update failed", result.Error)
	}
	return nil
}

func (p *Pipeline) markProcessed(webhook OrderWebhook) error {
	err := p.db.Create(&models.ProcessedOrder{Shop: webhook.Shop, ExternalOrderID: webhook.ExternalOrderID}).Error
	if err != nil && !isDuplicateKeyError(err) {
		return apperr.NewDataIntegrityError("attribution.markProcessed", "mark order processed failed", err)
	}
	return nil
}

var errAlreadyProcessed = fmt.Errorf("order already processed")

// isDuplicateKeyError recognizes a Postgres unique-violation (SQLSTATE
// 23505) without importing the pq error type directly, since gorm can
// wrap it depending on driver configuration.
func isDuplicateKeyError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key"))
}
