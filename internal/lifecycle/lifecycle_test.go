package lifecycle

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/iaros/optimization-engine/internal/bayes"
	"github.com/iaros/optimization-engine/internal/catalog"
	"github.com/iaros/optimization-engine/internal/models"
	"github.com/iaros/optimization-engine/internal/rng"
	"github.com/iaros/optimization-engine/internal/store"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping lifecycle integration test in short mode")
	}
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set, skipping lifecycle integration test")
	}
	db, err := store.Open(store.Options{DSN: dsn, MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: time.Minute})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	return db
}

// fakeCatalogClient records every ApplyVariant call instead of making
// an HTTP request; the pack carries no mocking library, so a hand-written
// fake implementing the collaborator interface is the idiomatic
// substitute, matching how the pack's own services stub collaborators
// (order_service/main.go's MockOfferService/MockPaymentService).
type fakeCatalogClient struct {
	calls        []catalog.ApplyVariantRequest
	restoreCalls []catalog.ApplyVariantRequest
}

func (f *fakeCatalogClient) ApplyVariant(_ context.Context, req catalog.ApplyVariantRequest) error {
	f.calls = append(f.calls, req)
	return nil
}

func (f *fakeCatalogClient) RestorePrices(_ context.Context, req catalog.ApplyVariantRequest) error {
	f.restoreCalls = append(f.restoreCalls, req)
	return nil
}

func seedDraftOptimization(t *testing.T, db *gorm.DB, shopDomain string) (*models.Optimization, *models.Product) {
	t.Helper()
	shop, err := store.NewShopStore(db).GetOrCreate(shopDomain)
	require.NoError(t, err)

	product := &models.Product{Shop: shop.Shop, ExternalProductID: "prod-1", Price: decimal.NewFromInt(50)}
	require.NoError(t, store.NewProductStore(db).Upsert(product))

	opt := &models.Optimization{
		Shop:             shop.Shop,
		ProductID:        product.ID,
		OptimizationType: models.OptimizationTypePrice,
		Status:           models.StatusDraft,
		BayesianState:    models.NewBayesianState(50, models.RiskBalanced, 50),
	}
	require.NoError(t, store.NewOptimizationStore(db).Put(opt))
	return opt, product
}

func newController(db *gorm.DB, catalogClient catalog.Client) *Controller {
	return New(store.NewOptimizationStore(db), store.NewProductStore(db), store.NewEventStore(db), catalogClient, bayes.DefaultConfig(), rng.NewMulberry32(1), zap.NewNop())
}

// TestActivateIsIdempotent covers spec.md §8's activation-idempotence
// property: activating an already-active optimization is a no-op, not
// an error.
func TestActivateIsIdempotent(t *testing.T) {
	db := testDB(t)
	opt, _ := seedDraftOptimization(t, db, "activate-idempotent.myshopify.com")
	controller := newController(db, &fakeCatalogClient{})

	first, err := controller.Activate(context.Background(), opt.Shop, opt.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, first.Status)

	second, err := controller.Activate(context.Background(), opt.Shop, opt.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, second.Status)
}

// TestActivateRefusesSecondConcurrentOptimization covers spec.md §3's
// "at most one active optimization per (shop, product, type)"
// invariant at the lifecycle layer.
func TestActivateRefusesSecondConcurrentOptimization(t *testing.T) {
	db := testDB(t)
	opt, product := seedDraftOptimization(t, db, "one-active-lifecycle.myshopify.com")
	controller := newController(db, &fakeCatalogClient{})

	_, err := controller.Activate(context.Background(), opt.Shop, opt.ID)
	require.NoError(t, err)

	second := &models.Optimization{
		Shop:             opt.Shop,
		ProductID:        product.ID,
		OptimizationType: opt.OptimizationType,
		Status:           models.StatusDraft,
		BayesianState:    models.NewBayesianState(50, models.RiskBalanced, 50),
	}
	require.NoError(t, store.NewOptimizationStore(db).Put(second))

	_, err = controller.Activate(context.Background(), second.Shop, second.ID)
	require.Error(t, err, "a second optimization of the same type on the same product must not activate while one is already active")
}

// TestReevaluatePromotesAndAppliesCatalogUpdate covers seeded scenario
// 4 end to end: a variant with an overwhelming, sustained advantage
// should promote and push its content into the catalog collaborator.
func TestReevaluatePromotesAndAppliesCatalogUpdate(t *testing.T) {
	db := testDB(t)
	opt, _ := seedDraftOptimization(t, db, "promote-catalog.myshopify.com")
	opt.VariantData = "59.99"
	require.NoError(t, store.NewOptimizationStore(db).Update(opt))

	fakeCatalog := &fakeCatalogClient{}
	controller := newController(db, fakeCatalog)

	_, err := controller.Activate(context.Background(), opt.Shop, opt.ID)
	require.NoError(t, err)
	require.Len(t, fakeCatalog.calls, 1, "activating a price-type optimization must apply the variant price up front")

	require.NoError(t, db.Model(&models.Optimization{}).Where("id = ?", opt.ID).Updates(map[string]interface{}{
		"impressions":          40000,
		"control_impressions":  20000,
		"variant_impressions":  20000,
		"conversions":          1900,
		"control_conversions":  800,
		"variant_conversions":  1100,
		"revenue":              100500,
		"control_revenue":      40000,
		"variant_revenue":      60500,
	}).Error)

	result, err := controller.Reevaluate(context.Background(), opt.Shop, opt.ID)
	require.NoError(t, err)

	require.True(t, result.ShouldPromote, "a 20k-per-arm variant with higher conversion rate and AOV should promote")
	require.Len(t, fakeCatalog.calls, 2, "promote applies the variant price again on top of activation's initial apply")
	require.Equal(t, "59.99", fakeCatalog.calls[len(fakeCatalog.calls)-1].Value)
}

// TestDeactivateRestoresControlPrice covers spec.md §4.3's manual
// deactivate transition: an active price-type optimization that never
// promoted restores its control price through the catalog collaborator.
func TestDeactivateRestoresControlPrice(t *testing.T) {
	db := testDB(t)
	opt, _ := seedDraftOptimization(t, db, "deactivate-restore.myshopify.com")
	opt.ControlData = "49.99"
	require.NoError(t, store.NewOptimizationStore(db).Update(opt))

	fakeCatalog := &fakeCatalogClient{}
	controller := newController(db, fakeCatalog)

	_, err := controller.Activate(context.Background(), opt.Shop, opt.ID)
	require.NoError(t, err)

	deactivated, err := controller.Deactivate(context.Background(), opt.Shop, opt.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, deactivated.Status)
	require.Len(t, fakeCatalog.restoreCalls, 1)
	require.Equal(t, "49.99", fakeCatalog.restoreCalls[0].Value)
}
