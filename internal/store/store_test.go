package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Lomkaaa/M-Store-server/internal/model"
	"github.com/Lomkaaa/M-Store-server/internal/ordernum"
	"github.com/Lomkaaa/M-Store-server/internal/store/config"
)

func newTestStore(t *testing.T) Store {
	dsn := os.Getenv("DATABASE_URI")
	if dsn == "" {
		t.Skip("DATABASE_URI не задан")
	}

	store, err := NewStore(config.Config{DBDsn: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestUser(t *testing.T, store Store, balance int64) int {
	ctx := context.Background()
	login := fmt.Sprintf("test-%d", time.Now().UnixNano())

	userID, err := store.AuthRegister(ctx, login, "hash")
	require.NoError(t, err)
	if balance > 0 {
		require.NoError(t, store.BalanceIncrease(ctx, userID, balance))
	}
	return userID
}

func newTestProduct(t *testing.T, store Store, name string, price int64, stock int) model.Product {
	product, err := store.ProductCreate(context.Background(), model.Product{
		Name:  name,
		Price: price,
		Value: stock,
	})
	require.NoError(t, err)
	return product
}

func TestAuthRegisterDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	login := fmt.Sprintf("test-%d", time.Now().UnixNano())

	_, err := store.AuthRegister(ctx, login, "hash")
	require.NoError(t, err)

	_, err = store.AuthRegister(ctx, login, "hash")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestBasketAddRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := newTestUser(t, store, 0)
	product := newTestProduct(t, store, "Чайник", 10000, 5)

	// добавление несуществующего товара
	_, err := store.BasketAdd(ctx, userID, -1)
	require.ErrorIs(t, err, ErrNoRows)

	line, err := store.BasketAdd(ctx, userID, product.ID)
	require.NoError(t, err)
	require.Equal(t, 1, line.Value)

	line, err = store.BasketAdd(ctx, userID, product.ID)
	require.NoError(t, err)
	require.Equal(t, 2, line.Value)

	line, deleted, err := store.BasketRemove(ctx, userID, product.ID)
	require.NoError(t, err)
	require.False(t, deleted)
	require.Equal(t, 1, line.Value)

	_, deleted, err = store.BasketRemove(ctx, userID, product.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	_, _, err = store.BasketRemove(ctx, userID, product.ID)
	require.ErrorIs(t, err, ErrNoRows)
}

func TestPurchaseSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := newTestUser(t, store, 20000)
	product := newTestProduct(t, store, "Чайник", 10000, 3)

	_, err := store.BasketAdd(ctx, userID, product.ID)
	require.NoError(t, err)

	order, err := store.PurchaseBasket(ctx, userID)
	require.NoError(t, err)
	require.True(t, ordernum.Valid(order.Number))
	require.Equal(t, model.OrderStatusPending, order.Status)
	require.Equal(t, int64(10000), order.Total)
	require.Equal(t, []model.OrderLine{{ProductID: product.ID, Value: 1, Price: 10000}}, order.Lines)

	// списание и уменьшение остатка ровно на купленное
	user, err := store.UserGet(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(10000), user.Balance)

	dbProduct, err := store.ProductGet(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, 2, dbProduct.Value)

	// корзина пуста
	entries, err := store.BasketGet(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, entries)

	// одна запись истории с одной строкой
	histories, err := store.HistoryGetByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, histories, 1)
	require.Equal(t, []model.HistoryLine{{ProductID: product.ID, Value: 1}}, histories[0].Lines)
}

func TestPurchaseInsufficientStock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := newTestUser(t, store, 100000)
	productA := newTestProduct(t, store, "Чайник", 10000, 5)
	productB := newTestProduct(t, store, "Утюг", 5000, 0)

	_, err := store.BasketAdd(ctx, userID, productA.ID)
	require.NoError(t, err)
	_, err = store.BasketAdd(ctx, userID, productA.ID)
	require.NoError(t, err)
	_, err = store.BasketAdd(ctx, userID, productB.ID)
	require.NoError(t, err)

	_, err = store.PurchaseBasket(ctx, userID)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, []string{"Утюг"}, stockErr.Products)

	// ничего не изменилось
	user, err := store.UserGet(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(100000), user.Balance)

	dbProduct, err := store.ProductGet(ctx, productA.ID)
	require.NoError(t, err)
	require.Equal(t, 5, dbProduct.Value)

	entries, err := store.BasketGet(ctx, userID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	orders, err := store.OrderGetByUser(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, orders)

	histories, err := store.HistoryGetByUser(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, histories)
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := newTestUser(t, store, 5000)
	product := newTestProduct(t, store, "Чайник", 10000, 3)

	_, err := store.BasketAdd(ctx, userID, product.ID)
	require.NoError(t, err)

	_, err = store.PurchaseBasket(ctx, userID)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	user, err := store.UserGet(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(5000), user.Balance)

	dbProduct, err := store.ProductGet(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, 3, dbProduct.Value)

	entries, err := store.BasketGet(ctx, userID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPurchaseEmptyBasket(t *testing.T) {
	store := newTestStore(t)
	userID := newTestUser(t, store, 5000)

	_, err := store.PurchaseBasket(context.Background(), userID)
	require.ErrorIs(t, err, ErrEmptyBasket)
}

func TestOrderSetStatusRules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := newTestUser(t, store, 20000)
	product := newTestProduct(t, store, "Чайник", 10000, 3)

	_, err := store.BasketAdd(ctx, userID, product.ID)
	require.NoError(t, err)
	order, err := store.PurchaseBasket(ctx, userID)
	require.NoError(t, err)

	// вперед по цепочке можно
	require.NoError(t, store.OrderSetStatus(ctx, order.Number, model.OrderStatusShipped))

	// назад нельзя
	err = store.OrderSetStatus(ctx, order.Number, model.OrderStatusPaid)
	require.ErrorIs(t, err, ErrStatusChange)

	// отмена из нетерминального можно
	require.NoError(t, store.OrderSetStatus(ctx, order.Number, model.OrderStatusCancelled))

	// терминальный не меняется
	err = store.OrderSetStatus(ctx, order.Number, model.OrderStatusDelivered)
	require.ErrorIs(t, err, ErrStatusChange)

	// несуществующий заказ
	err = store.OrderSetStatus(ctx, ordernum.Build(999999999), model.OrderStatusPaid)
	require.ErrorIs(t, err, ErrNoRows)
}

func TestOrderAdvanceStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := newTestUser(t, store, 20000)
	product := newTestProduct(t, store, "Чайник", 10000, 3)

	_, err := store.BasketAdd(ctx, userID, product.ID)
	require.NoError(t, err)
	order, err := store.PurchaseBasket(ctx, userID)
	require.NoError(t, err)

	now := time.Now().UTC()

	// порог пройден - заказ продвигается
	_, err = store.OrderAdvanceStatus(ctx, model.OrderStatusPending, model.OrderStatusPaid, now.Add(time.Second), now)
	require.NoError(t, err)
	status, err := store.OrderGetStatus(ctx, order.Number)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPaid, status)

	// повторный запуск с тем же порогом ничего не меняет
	_, err = store.OrderAdvanceStatus(ctx, model.OrderStatusPending, model.OrderStatusPaid, now.Add(time.Second), now)
	require.NoError(t, err)
	status, err = store.OrderGetStatus(ctx, order.Number)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPaid, status)

	// следующий шаг закрыт свежим updated_at
	_, err = store.OrderAdvanceStatus(ctx, model.OrderStatusPaid, model.OrderStatusShipped, now.Add(-5*time.Minute), now)
	require.NoError(t, err)
	status, err = store.OrderGetStatus(ctx, order.Number)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPaid, status)
}
