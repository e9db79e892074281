package service

import (
	"context"
	"errors"
	"strings"

	"github.com/Lomkaaa/M-Store-server/internal/basket"
	"github.com/Lomkaaa/M-Store-server/internal/model"
	"github.com/Lomkaaa/M-Store-server/internal/ordernum"
	"github.com/Lomkaaa/M-Store-server/internal/store"
)

type Service interface {
	AddToBasket(ctx context.Context, userID int, productID int) (model.BasketLine, error)
	RemoveFromBasket(ctx context.Context, userID int, productID int) (model.BasketLine, bool, error)
	ClearBasket(ctx context.Context, userID int) error
	GetBasket(ctx context.Context, userID int) ([]model.BasketEntry, error)

	Purchase(ctx context.Context, userID int) (model.Order, error)
	GetOrders(ctx context.Context, userID int) ([]model.Order, error)
	GetOrderStatus(ctx context.Context, number string) (string, error)
	SetOrderStatus(ctx context.Context, callerID int, number string, status string) error

	GetHistories(ctx context.Context, userID int) ([]model.History, error)
	GetBalance(ctx context.Context, userID int) (int64, error)
	TopUpBalance(ctx context.Context, userID int, amount int64) error

	CreateProduct(ctx context.Context, callerID int, product model.Product) (model.Product, error)
	GetProduct(ctx context.Context, productID int) (model.Product, error)
}

var (
	ErrNotFound          = errors.New("not found")
	ErrEmptyBasket       = errors.New("empty basket")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidInput      = errors.New("invalid input")
)

// Нехватка товара: имена товаров, которых не хватило на складе
type InsufficientStockError struct {
	Products []string
}

func (e *InsufficientStockError) Error() string {
	return "insufficient stock: " + strings.Join(e.Products, ", ")
}

type service struct {
	store  store.Store
	basket basket.Basket
}

func NewService(store store.Store, basket basket.Basket) Service {
	return &service{
		store:  store,
		basket: basket,
	}
}

func (service *service) AddToBasket(ctx context.Context, userID int, productID int) (model.BasketLine, error) {
	line, err := service.basket.Add(ctx, userID, productID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.BasketLine{}, ErrNotFound
		}
		return model.BasketLine{}, err
	}
	return line, nil
}

func (service *service) RemoveFromBasket(ctx context.Context, userID int, productID int) (model.BasketLine, bool, error) {
	line, deleted, err := service.basket.Remove(ctx, userID, productID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.BasketLine{}, false, ErrNotFound
		}
		return model.BasketLine{}, false, err
	}
	return line, deleted, nil
}

func (service *service) ClearBasket(ctx context.Context, userID int) error {
	return service.basket.Clear(ctx, userID)
}

func (service *service) GetBasket(ctx context.Context, userID int) ([]model.BasketEntry, error) {
	return service.basket.Get(ctx, userID)
}

// Purchase оформляет заказ из корзины. Корзина на время покупки
// заблокирована от изменений, атомарность дает транзакция хранилища
func (service *service) Purchase(ctx context.Context, userID int) (model.Order, error) {
	service.basket.Lock(userID)
	defer service.basket.Unlock(userID)

	order, err := service.store.PurchaseBasket(ctx, userID)
	if err != nil {
		var stockErr *store.InsufficientStockError
		switch {
		case errors.Is(err, store.ErrEmptyBasket):
			return model.Order{}, ErrEmptyBasket
		case errors.Is(err, store.ErrInsufficientFunds):
			return model.Order{}, ErrInsufficientFunds
		case errors.Is(err, store.ErrNoRows):
			return model.Order{}, ErrNotFound
		case errors.As(err, &stockErr):
			return model.Order{}, &InsufficientStockError{Products: stockErr.Products}
		default:
			return model.Order{}, err
		}
	}
	return order, nil
}

func (service *service) GetOrders(ctx context.Context, userID int) ([]model.Order, error) {
	return service.store.OrderGetByUser(ctx, userID)
}

func (service *service) GetOrderStatus(ctx context.Context, number string) (string, error) {
	if !ordernum.Valid(number) {
		return "", ErrInvalidInput
	}

	status, err := service.store.OrderGetStatus(ctx, number)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return status, nil
}

// SetOrderStatus - административная смена статуса.
// Роль проверяется по хранилищу, а не по токену
func (service *service) SetOrderStatus(ctx context.Context, callerID int, number string, status string) error {
	caller, err := service.store.UserGet(ctx, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return ErrForbidden
		}
		return err
	}
	if caller.Role != model.UserRoleAdmin {
		return ErrForbidden
	}

	if !ordernum.Valid(number) {
		return ErrInvalidInput
	}
	if !model.StatusKnown(status) {
		return ErrInvalidInput
	}

	err = service.store.OrderSetStatus(ctx, number, status)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNoRows):
			return ErrNotFound
		case errors.Is(err, store.ErrStatusChange):
			return ErrInvalidInput
		default:
			return err
		}
	}
	return nil
}

func (service *service) GetHistories(ctx context.Context, userID int) ([]model.History, error) {
	return service.store.HistoryGetByUser(ctx, userID)
}

func (service *service) GetBalance(ctx context.Context, userID int) (int64, error) {
	user, err := service.store.UserGet(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return user.Balance, nil
}

func (service *service) TopUpBalance(ctx context.Context, userID int, amount int64) error {
	if amount <= 0 {
		return ErrInvalidInput
	}

	err := service.store.BalanceIncrease(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (service *service) CreateProduct(ctx context.Context, callerID int, product model.Product) (model.Product, error) {
	caller, err := service.store.UserGet(ctx, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Product{}, ErrForbidden
		}
		return model.Product{}, err
	}
	if caller.Role != model.UserRoleAdmin {
		return model.Product{}, ErrForbidden
	}

	if product.Name == "" || product.Price < 0 || product.Value < 0 {
		return model.Product{}, ErrInvalidInput
	}

	return service.store.ProductCreate(ctx, product)
}

func (service *service) GetProduct(ctx context.Context, productID int) (model.Product, error) {
	product, err := service.store.ProductGet(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Product{}, ErrNotFound
		}
		return model.Product{}, err
	}
	return product, nil
}
