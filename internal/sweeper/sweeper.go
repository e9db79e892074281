package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Lomkaaa/M-Store-server/internal/model"
	"github.com/Lomkaaa/M-Store-server/internal/store"
	"github.com/Lomkaaa/M-Store-server/internal/sweeper/config"
)

// Sweeper периодически продвигает статусы заказов по времени:
// PENDING -> PAID -> SHIPPED -> DELIVERED. CANCELLED обходом
// не ставится никогда, только административно

type Sweeper interface {
	Run(ctx context.Context)
	Advance(ctx context.Context, now time.Time)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type rule struct {
	from  string
	to    string
	after time.Duration
}

type sweeper struct {
	cfg    config.Config
	store  store.Store
	clock  Clock
	zaplog *zap.Logger
}

func NewSweeper(cfg config.Config, store store.Store, zaplog *zap.Logger) Sweeper {
	return NewSweeperWithClock(cfg, store, zaplog, realClock{})
}

func NewSweeperWithClock(cfg config.Config, store store.Store, zaplog *zap.Logger, clock Clock) Sweeper {
	return &sweeper{
		cfg:    cfg,
		store:  store,
		clock:  clock,
		zaplog: zaplog,
	}
}

// Run запускает обход сразу и далее по таймеру, до отмены контекста
func (sweeper *sweeper) Run(ctx context.Context) {
	sweeper.Advance(ctx, sweeper.clock.Now())

	ticker := time.NewTicker(sweeper.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweeper.Advance(ctx, sweeper.clock.Now())
		}
	}
}

// Advance применяет правила перехода. Поздние стадии первыми:
// за один обход заказ делает не больше одного шага,
// updated_at после перехода сбрасывается и закрывает следующее правило.
// Ошибка одного правила не прерывает обход - заказы независимы
func (sweeper *sweeper) Advance(ctx context.Context, now time.Time) {
	rules := []rule{
		{model.OrderStatusShipped, model.OrderStatusDelivered, sweeper.cfg.ShippedAfter},
		{model.OrderStatusPaid, model.OrderStatusShipped, sweeper.cfg.PaidAfter},
		{model.OrderStatusPending, model.OrderStatusPaid, sweeper.cfg.PendingAfter},
	}

	for _, rule := range rules {
		affected, err := sweeper.store.OrderAdvanceStatus(ctx, rule.from, rule.to, now.Add(-rule.after), now)
		if err != nil {
			sweeper.zaplog.Error("order status sweep failed",
				zap.String("from", rule.from),
				zap.String("to", rule.to),
				zap.Error(err),
			)
			continue
		}
		if affected > 0 {
			sweeper.zaplog.Info("order statuses advanced",
				zap.String("from", rule.from),
				zap.String("to", rule.to),
				zap.Int64("orders", affected),
			)
		}
	}
}
