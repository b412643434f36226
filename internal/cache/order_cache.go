package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
)

type OrderRepository interface {
	GetAllActiveOrders(ctx context.Context) ([]*repository.Order, error)
}

// tombstoneTTL is how long a removed order stays blocked from being cached
// again. It only has to outlive a post-commit Set that lost the race.
const tombstoneTTL = time.Minute

// OrderCache keeps Pending and Approved orders in memory. Entries are copies,
// so callers can never mutate what the cache holds.
//
// An order that left the active set never returns to it, so removals leave a
// tombstone and a late Set for the same id is dropped.
type OrderCache struct {
	mu         sync.RWMutex
	cache      map[int64]*repository.Order
	tombstones map[int64]time.Time
	nextPrune  time.Time
	repo       OrderRepository
	logger     *zap.Logger
	timeNow    func() time.Time
}

func NewOrderCache(repo OrderRepository, logger *zap.Logger) *OrderCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderCache{
		cache:      make(map[int64]*repository.Order),
		tombstones: make(map[int64]time.Time),
		repo:       repo,
		logger:     logger,
		timeNow:    time.Now,
	}
}

func (c *OrderCache) LoadInitialData(ctx context.Context) error {
	c.logger.Info("Loading initial data into order cache...")
	orders, err := c.repo.GetAllActiveOrders(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, order := range orders {
		orderCopy := *order
		c.cache[order.ID] = &orderCopy
	}
	metrics.OrderCacheItems.Set(float64(len(c.cache)))
	c.logger.Info("Loaded active orders into cache", zap.Int("count", len(c.cache)))
	return nil
}

func (c *OrderCache) Get(orderID int64) (*repository.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	order, found := c.cache[orderID]
	if !found {
		return nil, false
	}
	orderCopy := *order
	return &orderCopy, true
}

// Set stores an active order and drops a finished one. A write carrying an
// older version than the cached entry, or for an order already removed, is
// ignored.
func (c *OrderCache) Set(order *repository.Order) {
	if !isActiveStatus(order.Status) {
		c.Delete(order.ID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, removed := c.tombstones[order.ID]; removed {
		c.logger.Debug("Cache: ignored stale set", zap.Int64("order_id", order.ID))
		return
	}
	if cached, found := c.cache[order.ID]; found && cached.Version > order.Version {
		return
	}
	orderCopy := *order
	c.cache[order.ID] = &orderCopy
	metrics.OrderCacheItems.Set(float64(len(c.cache)))
	c.logger.Debug("Cache: set order", zap.Int64("order_id", order.ID), zap.String("status", order.Status))
}

func (c *OrderCache) Delete(orderID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.timeNow()
	if !now.Before(c.nextPrune) {
		for id, removedAt := range c.tombstones {
			if now.Sub(removedAt) >= tombstoneTTL {
				delete(c.tombstones, id)
			}
		}
		c.nextPrune = now.Add(tombstoneTTL)
	}
	c.tombstones[orderID] = now

	if _, found := c.cache[orderID]; found {
		delete(c.cache, orderID)
		metrics.OrderCacheItems.Set(float64(len(c.cache)))
		c.logger.Debug("Cache: deleted order", zap.Int64("order_id", orderID))
	}
}

func (c *OrderCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func isActiveStatus(status string) bool {
	return status == "Pending" || status == "Approved"
}
