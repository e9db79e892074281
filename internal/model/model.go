package model

import "time"

// Корзина

type BasketLine struct {
	UserID    int
	ProductID int
	Value     int // количество, всегда >= 1
}

// Строка корзины вместе с текущими данными товара
type BasketEntry struct {
	Line    BasketLine
	Product Product
}

// Товар. Каталогом управляет внешняя часть,
// здесь только то, что нужно корзине и покупке

type Product struct {
	ID       int
	Name     string
	Price    int64 // в копейках
	Value    int   // остаток на складе
	Discount int
}

// Заказ

type Order struct {
	Number    string
	UserID    int
	Total     int64 // в копейках
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Lines     []OrderLine
}

// Снимок строки корзины на момент покупки
type OrderLine struct {
	ProductID int
	Value     int
	Price     int64 // цена на момент покупки, в копейках
}

const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
)

// StatusRank задает порядок статусов в цепочке доставки.
// CANCELLED вне цепочки, для него ранга нет
func StatusRank(status string) (int, bool) {
	switch status {
	case OrderStatusPending:
		return 0, true
	case OrderStatusPaid:
		return 1, true
	case OrderStatusShipped:
		return 2, true
	case OrderStatusDelivered:
		return 3, true
	default:
		return 0, false
	}
}

func StatusKnown(status string) bool {
	if _, ok := StatusRank(status); ok {
		return true
	}
	return status == OrderStatusCancelled
}

func StatusTerminal(status string) bool {
	return status == OrderStatusDelivered || status == OrderStatusCancelled
}

// История покупок

type History struct {
	ID        int
	UserID    int
	CreatedAt time.Time
	Lines     []HistoryLine
}

type HistoryLine struct {
	ProductID int
	Value     int
}

// Пользователь

type User struct {
	ID      int
	Login   string
	Role    string
	Balance int64 // в копейках
}

const (
	UserRoleUser  = "USER"
	UserRoleAdmin = "ADMIN"
)
