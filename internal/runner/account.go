package runner

import (
	"context"
	"sync"
	"time"

	"signal_bot/internal/exchange"
	"signal_bot/internal/models"

	"go.uber.org/zap"
)

// AccountCache баланс с биржи. Пишет только горутина Run, читатели получают копию.
type AccountCache struct {
	ex       exchange.Exchange
	interval time.Duration
	retry    exchange.Policy
	log      *zap.Logger

	mu    sync.RWMutex
	state models.AccountState

	kick    chan struct{}
	syncReq chan chan error
}

func NewAccountCache(ex exchange.Exchange, interval time.Duration, retry exchange.Policy, log *zap.Logger) *AccountCache {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountCache{
		ex:       ex,
		interval: interval,
		retry:    retry,
		log:      log,
		kick:     make(chan struct{}, 1),
		syncReq:  make(chan chan error),
	}
}

// Run обновляет баланс по таймеру и по запросу, пока жив ctx.
func (c *AccountCache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	_ = c.refresh(ctx) // сразу при старте

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.refresh(ctx)
		case <-c.kick:
			_ = c.refresh(ctx)
		case reply := <-c.syncReq:
			reply <- c.refresh(ctx)
		}
	}
}

func (c *AccountCache) refresh(ctx context.Context) error {
	var bal models.AccountState
	err := exchange.Retry(ctx, c.retry, func(ctx context.Context) error {
		b, err := c.ex.GetBalance(ctx)
		if err != nil {
			return err
		}
		bal.Balance = b
		return nil
	})
	if err != nil {
		c.log.Warn("balance refresh failed", zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.state.Balance = bal.Balance
	c.state.UpdatedAt = time.Now()
	c.mu.Unlock()
	c.log.Debug("balance refreshed", zap.String("balance", bal.Balance.String()))
	return nil
}

// RequestRefresh не блокирует, повторные запросы схлопываются.
func (c *AccountCache) RequestRefresh() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Sync просит писателя обновить баланс и ждёт результат.
func (c *AccountCache) Sync(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case c.syncReq <- reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *AccountCache) State() models.AccountState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *AccountCache) LastRefresh() time.Time {
	return c.State().UpdatedAt
}
