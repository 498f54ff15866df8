// Package assignment is C3: deciding, on every page view, which variant
// a session sees, and keeping that choice sticky for 90 days. Caching
// is grounded on pricing_service/src/DynamicPricingEngine.go's
// Redis get/set-with-TTL pattern; the persistence fallback uses
// internal/store directly.
package assignment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iaros/optimization-engine/internal/apperr"
	"github.com/iaros/optimization-engine/internal/models"
	"github.com/iaros/optimization-engine/internal/rng"
	"github.com/iaros/optimization-engine/internal/store"
)

// cacheTTL is shorter than the 90-day StickyWindow: Redis here is a
// read-through accelerator, not the system of record, so a cache miss
// just costs one Postgres round trip rather than losing stickiness.
const cacheTTL = 1 * time.Hour

// Service decides and records variant assignments.
type Service struct {
	optimizations *store.OptimizationStore
	assignments   *store.AssignmentStore
	events        *store.EventStore
	redis         *redis.Client
	source        rng.Source
	logger        *zap.Logger
}

// New builds an assignment service. source supplies the allocation
// draw: pass rng.NewMulberry32(seed) in tests or the batch simulator
// for reproducibility, an *rng.CryptoSource in production.
func New(optimizations *store.OptimizationStore, assignments *store.AssignmentStore, events *store.EventStore, redisClient *redis.Client, source rng.Source, logger *zap.Logger) *Service {
	return &Service{
		optimizations: optimizations,
		assignments:   assignments,
		events:        events,
		redis:         redisClient,
		source:        source,
		logger:        logger,
	}
}

type cachedAssignment struct {
	Variant   models.Variant `json:"variant"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Assign returns the variant the session should see for this
// optimization, creating and persisting a new sticky assignment on
// first contact or after expiry. Draws are weighted by the
// optimization's current NormalizedAllocation, per spec §4.4.
func (s *Service) Assign(ctx context.Context, opt *models.Optimization, shop, sessionID string) (models.Variant, error) {
	if cached, ok := s.readCache(ctx, shop, sessionID, opt.ID); ok {
		return cached.Variant, nil
	}

	existing, err := s.assignments.Get(shop, sessionID, opt.ID)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if existing != nil && !existing.Expired(now) {
		s.writeCache(ctx, shop, sessionID, opt.ID, existing.Variant, existing.ExpiresAt)
		return existing.Variant, nil
	}

	variant := s.draw(opt)
	assignment := &models.SessionAssignment{
		Shop:           shop,
		SessionID:      sessionID,
		OptimizationID: opt.ID,
		Variant:        variant,
		CreatedAt:      now,
		ExpiresAt:      now.Add(models.StickyWindow),
	}
	stored, err := s.assignments.CreateIfAbsent(assignment)
	if err != nil {
		return "", err
	}

	s.writeCache(ctx, shop, sessionID, opt.ID, stored.Variant, stored.ExpiresAt)
	return stored.Variant, nil
}

// draw picks an arm via a single uniform draw against the current
// variant share, per spec §4.4 step 4.
func (s *Service) draw(opt *models.Optimization) models.Variant {
	_, variantShare := opt.NormalizedAllocation()
	if rng.Clamp01(s.source.Float64()) < variantShare {
		return models.VariantVariant
	}
	return models.VariantControl
}

func (s *Service) readCache(ctx context.Context, shop, sessionID string, optimizationID uint) (*cachedAssignment, bool) {
	if s.redis == nil {
		return nil, false
	}
	raw, err := s.redis.Get(ctx, cacheKey(shop, sessionID, optimizationID)).Result()
	if err != nil {
		return nil, false
	}
	var cached cachedAssignment
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, false
	}
	if time.Now().UTC().After(cached.ExpiresAt) {
		return nil, false
	}
	return &cached, true
}

func (s *Service) writeCache(ctx context.Context, shop, sessionID string, optimizationID uint, variant models.Variant, expiresAt time.Time) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(cachedAssignment{Variant: variant, ExpiresAt: expiresAt})
	if err != nil {
		return
	}
	s.redis.Set(ctx, cacheKey(shop, sessionID, optimizationID), data, cacheTTL)
}

func cacheKey(shop, sessionID string, optimizationID uint) string {
	return fmt.Sprintf("assignment:%s:%s:%d", shop, sessionID, optimizationID)
}

// RecordImpression logs a view and bumps the optimization's rolling
// counters. Errors from the append-only event insert are logged but
// don't fail the caller: a dropped audit row is preferable to a
// slower/failed page view for the shopper.
func (s *Service) RecordImpression(ctx context.Context, shop, sessionID string, optimizationID uint, variant models.Variant) error {
	if err := s.optimizations.IncrementImpression(shop, optimizationID, variant); err != nil {
		return err
	}
	event := models.OptimizationImpression{
		Shop:           shop,
		OptimizationID: optimizationID,
		SessionID:      sessionID,
		Variant:        variant,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.events.CreateImpressions([]models.OptimizationImpression{event}); err != nil {
		s.logger.Warn("failed to persist impression audit row",
			zap.String("shop", shop), zap.Uint("optimization_id", optimizationID), zap.Error(err))
	}
	return nil
}

// AssignmentsForSession returns every live (non-expired) assignment a
// session holds, for the GET /assignments/:session_id endpoint.
func (s *Service) AssignmentsForSession(shop, sessionID string) ([]models.SessionAssignment, error) {
	rows, err := s.assignments.GetBySession(shop, sessionID)
	if err != nil {
		return nil, apperr.NewDataIntegrityError("assignment.AssignmentsForSession", "query failed", err)
	}
	now := time.Now().UTC()
	live := make([]models.SessionAssignment, 0, len(rows))
	for i := range rows {
		if !rows[i].Expired(now) {
			live = append(live, rows[i])
		}
	}
	return live, nil
}
