package basket

import (
	"context"
	"sync"

	"github.com/Lomkaaa/M-Store-server/internal/model"
	"github.com/Lomkaaa/M-Store-server/internal/store"
)

type Basket interface {
	Add(ctx context.Context, userID int, productID int) (model.BasketLine, error)
	Remove(ctx context.Context, userID int, productID int) (model.BasketLine, bool, error)
	Clear(ctx context.Context, userID int) error
	Get(ctx context.Context, userID int) ([]model.BasketEntry, error)

	Lock(userID int)
	Unlock(userID int)
}

type basket struct {
	store store.Store
	guard *guard
}

func NewBasket(store store.Store) Basket {
	return &basket{
		store: store,
		guard: newGuard(),
	}
}

// Блокировка корзины пользователя. Все изменяющие операции
// и оформление покупки идут строго по очереди, чтение - без блокировки
type guard struct {
	mu      sync.Mutex
	baskets map[int]*sync.Mutex
}

func newGuard() *guard {
	return &guard{baskets: make(map[int]*sync.Mutex)}
}

func (g *guard) lock(userID int) {
	g.mu.Lock()
	m, ok := g.baskets[userID]
	if !ok {
		m = &sync.Mutex{}
		g.baskets[userID] = m
	}
	g.mu.Unlock()

	m.Lock()
}

func (g *guard) unlock(userID int) {
	g.mu.Lock()
	m := g.baskets[userID]
	g.mu.Unlock()

	m.Unlock()
}

// Lock отдает ту же блокировку наружу: оформление покупки
// должно исключать одновременное изменение корзины
func (basket *basket) Lock(userID int) {
	basket.guard.lock(userID)
}

func (basket *basket) Unlock(userID int) {
	basket.guard.unlock(userID)
}

func (basket *basket) Add(ctx context.Context, userID int, productID int) (model.BasketLine, error) {
	basket.guard.lock(userID)
	defer basket.guard.unlock(userID)

	return basket.store.BasketAdd(ctx, userID, productID)
}

func (basket *basket) Remove(ctx context.Context, userID int, productID int) (model.BasketLine, bool, error) {
	basket.guard.lock(userID)
	defer basket.guard.unlock(userID)

	return basket.store.BasketRemove(ctx, userID, productID)
}

func (basket *basket) Clear(ctx context.Context, userID int) error {
	basket.guard.lock(userID)
	defer basket.guard.unlock(userID)

	return basket.store.BasketClear(ctx, userID)
}

func (basket *basket) Get(ctx context.Context, userID int) ([]model.BasketEntry, error) {
	return basket.store.BasketGet(ctx, userID)
}
