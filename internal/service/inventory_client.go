package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointment-service/internal/models"
	"appointment-service/internal/util"

	"go.uber.org/zap"
)

// InventoryClient handles supply stock operations
type InventoryClient struct {
	store  InventoryStore
	cache  StockCache
	logger *zap.Logger
}

// NewInventoryClient creates a new inventory client. cache may be nil.
func NewInventoryClient(store InventoryStore, cache StockCache) *InventoryClient {
	return &InventoryClient{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// DeductSupplies consumes the stock of every supply line. Every line is
// attempted; the joined error reports the ones that failed.
func (ic *InventoryClient) DeductSupplies(ctx context.Context, appointmentID string, lines []models.SupplyLine) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.DeductSupplies")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SideEffectLatency.WithLabelValues("stock").Observe(time.Since(start).Seconds())
	}()

	var errs []error
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		if err := ic.DeductStock(ctx, line.SupplyID, line.Quantity); err != nil {
			ic.logger.Error("Failed to deduct supply stock",
				zap.String("appointment_id", appointmentID),
				zap.String("supply_id", line.SupplyID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeductStock lowers the stock of one supply. The database is authoritative;
// the cache is corrected when it drifts.
func (ic *InventoryClient) DeductStock(ctx context.Context, supplyID string, quantity int) error {
	cached, ok := -1, false
	if ic.cache != nil {
		var err error
		cached, ok, err = ic.cache.DeductStock(ctx, supplyID, quantity)
		if err != nil {
			ic.logger.Warn("Failed to deduct stock in Redis",
				zap.String("supply_id", supplyID),
				zap.Error(err))
		}
	}

	remaining, err := ic.store.DeductSupplyStock(ctx, supplyID, quantity)
	if err != nil {
		return fmt.Errorf("failed to deduct stock for supply %s: %w", supplyID, err)
	}
	util.StockDeductionsTotal.Inc()

	if ic.cache != nil && (!ok || cached != remaining) {
		if err := ic.cache.SetStock(ctx, supplyID, remaining); err != nil {
			ic.logger.Warn("Failed to refresh Redis stock",
				zap.String("supply_id", supplyID),
				zap.Error(err))
		}
	}
	return nil
}

// SyncStockToRedis copies every supply's stock into the cache
func (ic *InventoryClient) SyncStockToRedis(ctx context.Context) error {
	if ic.cache == nil {
		return nil
	}
	ic.logger.Info("Starting supply stock sync to Redis")

	supplies, err := ic.store.GetSupplies(ctx)
	if err != nil {
		return fmt.Errorf("failed to get supplies: %w", err)
	}

	for _, supply := range supplies {
		if err := ic.cache.SetStock(ctx, supply.ID, supply.StockQuantity); err != nil {
			ic.logger.Error("Failed to init Redis stock",
				zap.String("supply_id", supply.ID),
				zap.Error(err))
		}
	}

	ic.logger.Info("Supply stock sync completed", zap.Int("count", len(supplies)))
	return nil
}
